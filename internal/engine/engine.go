package engine

import (
	"context"
	"log/slog"
	"time"

	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/observability/metrics"
	"ToolFlow/internal/plan"
	"ToolFlow/internal/provider"
)

// defaultCallTimeout 是单次工具调用的默认时限。提供方可能位于远端，
// 默认值给得比较宽松。
const defaultCallTimeout = 30 * time.Second

// Engine 是工具调用执行引擎，对外只暴露 Execute 一个入口。
// 引擎自身无状态：变量存储与结果都在单次执行内创建并随之丢弃。
type Engine struct {
	registry    provider.Invoker
	callTimeout time.Duration
	planTimeout time.Duration
	logger      *slog.Logger
}

// Option 定义可选的引擎配置。
type Option func(*Engine)

// WithCallTimeout 设置单次工具调用的超时时间。
func WithCallTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.callTimeout = timeout
		}
	}
}

// WithPlanTimeout 设置整个计划的执行时限。超时后尚未启动的调用会被
// 标记为超时跳过，已在途的调用允许自然结束。
func WithPlanTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.planTimeout = timeout
		}
	}
}

// WithLogger 指定调试日志输出。
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New 创建一个执行引擎。
func New(registry provider.Invoker, opts ...Option) *Engine {
	eng := &Engine{
		registry:    registry,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(eng)
		}
	}
	return eng
}

// Execute 执行一个计划。计划未通过校验时返回错误且不产生任何副作用；
// 通过校验后单个调用的失败只体现在结果中，Execute 本身返回 nil 错误，
// OverallSuccess 是"是否全部成功"的唯一权威信号。
func (e *Engine) Execute(ctx context.Context, p *plan.ExecutionPlan) (*plan.ExecutionResult, error) {
	if e.registry == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置工具提供方注册表")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	planCtx := ctx
	if e.planTimeout > 0 {
		var cancel context.CancelFunc
		planCtx, cancel = context.WithTimeout(ctx, e.planTimeout)
		defer cancel()
	}

	vars := NewVariableStore()
	coord := &coordinator{
		exec: &stepExecutor{
			registry:    e.registry,
			vars:        vars,
			callTimeout: e.callTimeout,
			logger:      e.logger,
		},
		p: p,
	}

	start := time.Now()
	outcomes := coord.run(planCtx)
	result := aggregate(p, outcomes)
	metrics.ObservePlanExecution(string(p.Strategy), result.OverallSuccess, time.Since(start))

	if e.logger != nil {
		e.logger.Info("计划执行完成",
			slog.String("strategy", string(p.Strategy)),
			slog.Int("calls", len(p.Calls)),
			slog.Bool("overall_success", result.OverallSuccess),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
	return result, nil
}
