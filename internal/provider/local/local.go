package local

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/provider"
)

// Client 是进程内工具提供方，暴露计算器工具与静态文档检索。
// 它既是默认提供方，也是测试中最常用的替身。
type Client struct {
	name      string
	documents []Document
}

// Option 定义可选配置。
type Option func(*Client)

// WithDocuments 挂载可供 search_documents 检索的文档集合。
func WithDocuments(docs []Document) Option {
	return func(c *Client) {
		c.documents = docs
	}
}

// New 创建本地提供方。
func New(name string, opts ...Option) *Client {
	if name == "" {
		name = "local"
	}
	c := &Client{name: name}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Name 返回提供方名称。
func (c *Client) Name() string { return c.name }

// Tools 列举本地提供方暴露的全部工具。
func (c *Client) Tools(_ context.Context) ([]provider.ToolDescriptor, error) {
	tools := []provider.ToolDescriptor{
		{Name: "add", Description: "计算 a + b"},
		{Name: "subtract", Description: "计算 a - b"},
		{Name: "multiply", Description: "计算 a * b"},
		{Name: "divide", Description: "计算 a / b"},
		{Name: "power", Description: "计算 base 的 exponent 次幂"},
		{Name: "sqrt", Description: "计算 value 的平方根"},
		{Name: "factorial", Description: "计算非负整数 n 的阶乘"},
	}
	if len(c.documents) > 0 {
		tools = append(tools, provider.ToolDescriptor{
			Name:        "search_documents",
			Description: "按关键词检索本地文档",
		})
	}
	return tools, nil
}

// Invoke 执行指定工具。
func (c *Client) Invoke(ctx context.Context, tool string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch tool {
	case "add":
		return c.binary(params, "a", "b", func(a, b float64) (float64, error) { return a + b, nil })
	case "subtract":
		return c.binary(params, "a", "b", func(a, b float64) (float64, error) { return a - b, nil })
	case "multiply":
		return c.binary(params, "a", "b", func(a, b float64) (float64, error) { return a * b, nil })
	case "divide":
		return c.binary(params, "a", "b", func(a, b float64) (float64, error) {
			if b == 0 {
				return 0, fmt.Errorf("除数不能为零")
			}
			return a / b, nil
		})
	case "power":
		return c.binary(params, "base", "exponent", func(a, b float64) (float64, error) { return math.Pow(a, b), nil })
	case "sqrt":
		value, err := numberParam(params, "value")
		if err != nil {
			return nil, err
		}
		if value < 0 {
			return nil, fmt.Errorf("负数 %v 没有实数平方根", value)
		}
		return math.Sqrt(value), nil
	case "factorial":
		return factorial(params)
	case "search_documents":
		return c.searchDocuments(params)
	default:
		return nil, xerrors.Wrap(provider.CodeToolUnknown, provider.ErrToolUnknown, fmt.Sprintf("本地提供方不支持工具 %s", tool))
	}
}

// Close 本地提供方无需释放资源。
func (c *Client) Close() error { return nil }

func (c *Client) binary(params map[string]any, first, second string, fn func(a, b float64) (float64, error)) (any, error) {
	a, err := numberParam(params, first)
	if err != nil {
		return nil, err
	}
	b, err := numberParam(params, second)
	if err != nil {
		return nil, err
	}
	return fn(a, b)
}

func factorial(params map[string]any) (any, error) {
	raw, err := numberParam(params, "n")
	if err != nil {
		return nil, err
	}
	n := int64(raw)
	if float64(n) != raw || n < 0 {
		return nil, fmt.Errorf("factorial 需要非负整数，实际 %v", raw)
	}
	// 20! 是 int64 能容纳的最大阶乘。
	if n > 20 {
		return nil, fmt.Errorf("factorial 仅支持 n <= 20，实际 %d", n)
	}
	result := float64(1)
	for i := int64(2); i <= n; i++ {
		result *= float64(i)
	}
	return result, nil
}

func (c *Client) searchDocuments(params map[string]any) (any, error) {
	if len(c.documents) == 0 {
		return nil, fmt.Errorf("未挂载任何文档")
	}
	query, _ := params["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search_documents 需要非空的 query 参数")
	}
	limit := 3
	if raw, err := numberParam(params, "max_results"); err == nil && raw > 0 {
		limit = int(raw)
	}

	lowered := strings.ToLower(query)
	matches := make([]Document, 0, limit)
	for _, doc := range c.documents {
		if doc.matches(lowered) {
			matches = append(matches, doc)
			if len(matches) >= limit {
				break
			}
		}
	}
	return matches, nil
}

// numberParam 把 JSON 解码得到的任意数值类型归一化为 float64。
func numberParam(params map[string]any, key string) (float64, error) {
	raw, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("缺少参数 %s", key)
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	default:
		return 0, fmt.Errorf("参数 %s 必须是数值，实际 %T", key, raw)
	}
}

var _ provider.Client = (*Client)(nil)
