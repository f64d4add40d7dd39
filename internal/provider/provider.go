package provider

import (
	"context"

	xerrors "ToolFlow/internal/errors"
)

// ToolDescriptor summarizes a callable tool exposed by some provider.
type ToolDescriptor struct {
	Name        string `json:"tool_name"`
	Provider    string `json:"provider_id"`
	Description string `json:"description,omitempty"`
}

// Client is the common interface any tool provider implementation must
// provide so the engine can interact with different backends uniformly.
type Client interface {
	Name() string
	Tools(ctx context.Context) ([]ToolDescriptor, error)
	Invoke(ctx context.Context, tool string, params map[string]any) (any, error)
	Close() error
}

// Invoker is the narrow surface the execution engine depends on.
type Invoker interface {
	Has(tool string) bool
	Invoke(ctx context.Context, tool string, params map[string]any) (any, error)
}

// CodeToolUnknown 表示没有任何提供方暴露所请求的工具。
const CodeToolUnknown xerrors.Code = "TOOL_UNKNOWN"

// ErrToolUnknown 是工具未注册的哨兵错误。
var ErrToolUnknown = xerrors.New(CodeToolUnknown, "tool not found")

func init() {
	xerrors.Register(CodeToolUnknown, xerrors.Attributes{
		Message:   "tool not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
