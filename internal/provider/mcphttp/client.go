package mcphttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ToolFlow/internal/provider"
)

const defaultTimeout = 30 * time.Second

// Config 描述了接入一个远程 HTTP 工具提供方所需的信息。
type Config struct {
	Name    string
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client 通过 HTTP + JSON 访问远程工具提供方：
// GET /tools 列举工具，POST /invoke 执行调用。
type Client struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient 根据配置创建远程提供方客户端。
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("未提供提供方的 base_url")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = baseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		name:    name,
		baseURL: baseURL,
		token:   strings.TrimSpace(cfg.Token),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Name 返回提供方名称。
func (c *Client) Name() string { return c.name }

// Tools 请求远端列举可用工具。
func (c *Client) Tools(ctx context.Context) ([]provider.ToolDescriptor, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("构建工具列表请求失败: %w", err)
	}
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("请求工具列表失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(resp)
	}

	var decoded []struct {
		ToolName    string `json:"tool_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析工具列表响应失败: %w", err)
	}

	tools := make([]provider.ToolDescriptor, 0, len(decoded))
	for _, item := range decoded {
		if strings.TrimSpace(item.ToolName) == "" {
			continue
		}
		tools = append(tools, provider.ToolDescriptor{
			Name:        item.ToolName,
			Description: item.Description,
		})
	}
	return tools, nil
}

// Invoke 调用远端工具并返回其结果。
func (c *Client) Invoke(ctx context.Context, tool string, params map[string]any) (any, error) {
	payload, err := json.Marshal(struct {
		Tool       string         `json:"tool"`
		Parameters map[string]any `json:"parameters,omitempty"`
	}{Tool: tool, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("编码调用请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("构建调用请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.decorate(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("调用工具 %s 失败: %w", tool, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, c.statusError(resp)
	}

	var decoded struct {
		Value any `json:"value"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("解析调用响应失败: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("提供方报告错误 [%s]: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Value, nil
}

// Close 释放 HTTP 连接池。
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("提供方 %s 返回错误状态 %d: %s", c.name, resp.StatusCode, strings.TrimSpace(string(body)))
}

var _ provider.Client = (*Client)(nil)
