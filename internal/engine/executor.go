package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/observability/metrics"
	"ToolFlow/internal/plan"
	"ToolFlow/internal/provider"
)

// stepExecutor 负责执行单个已解析的工具调用：查找工具、带超时调用、
// 捕获错误，并在成功后把结果发布到变量存储。
type stepExecutor struct {
	registry    provider.Invoker
	vars        *VariableStore
	callTimeout time.Duration
	logger      *slog.Logger
}

// execute 执行一个调用并返回其结果。失败只体现在 StepOutcome 中，
// 不会以 error 形式向上传播。
func (e *stepExecutor) execute(ctx context.Context, call *plan.ToolCall) plan.StepOutcome {
	outcome := plan.StepOutcome{Step: call.Step, ToolName: call.ToolName}

	params, err := resolveParameters(call, e.vars)
	if err != nil {
		outcome.ErrorCode = xerrors.CodeOf(err)
		outcome.ErrorMessage = err.Error()
		return outcome
	}

	if !e.registry.Has(call.ToolName) {
		outcome.ErrorCode = provider.CodeToolUnknown
		outcome.ErrorMessage = "没有提供方暴露工具 " + call.ToolName
		return outcome
	}

	callCtx := ctx
	if e.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.callTimeout)
		defer cancel()
	}

	start := time.Now()
	value, err := e.registry.Invoke(callCtx, call.ToolName, params)
	outcome.DurationMs = time.Since(start).Milliseconds()
	metrics.ObserveToolCall(call.ToolName, err == nil)

	if err != nil {
		switch {
		case stdErrors.Is(err, context.DeadlineExceeded) || stdErrors.Is(callCtx.Err(), context.DeadlineExceeded):
			outcome.ErrorCode = CodeCallTimeout
			outcome.ErrorMessage = "工具 " + call.ToolName + " 调用超时"
		case stdErrors.Is(err, context.Canceled) || stdErrors.Is(callCtx.Err(), context.Canceled):
			outcome.ErrorCode = CodeCallTimeout
			outcome.ErrorMessage = "工具 " + call.ToolName + " 调用被取消"
		case stdErrors.Is(err, provider.ErrToolUnknown):
			outcome.ErrorCode = provider.CodeToolUnknown
			outcome.ErrorMessage = err.Error()
		default:
			outcome.ErrorCode = CodeToolExecution
			outcome.ErrorMessage = err.Error()
		}
		e.logDebug("步骤执行失败",
			slog.Int("step", call.Step),
			slog.String("tool", call.ToolName),
			slog.String("error_code", string(outcome.ErrorCode)),
			slog.String("error", outcome.ErrorMessage),
		)
		return outcome
	}

	outcome.Success = true
	outcome.Value = value
	// 先发布再返回：依赖方不能观察到半发布状态。
	if call.ResultVariable != "" {
		e.vars.Publish(call.ResultVariable, value)
	}
	e.logDebug("步骤执行成功",
		slog.Int("step", call.Step),
		slog.String("tool", call.ToolName),
		slog.Int64("duration_ms", outcome.DurationMs),
	)
	return outcome
}

func (e *stepExecutor) logDebug(msg string, attrs ...slog.Attr) {
	if e.logger == nil {
		return
	}
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}
	e.logger.Debug(msg, args...)
}

// skippedOutcome 构造一个因上游失败而未执行的结果。
func skippedOutcome(call *plan.ToolCall, upstream int) plan.StepOutcome {
	return plan.StepOutcome{
		Step:         call.Step,
		ToolName:     call.ToolName,
		ErrorCode:    CodeUpstreamFailure,
		ErrorMessage: fmt.Sprintf("上游步骤 %d 未成功，调用被跳过", upstream),
	}
}

// cancelledOutcome 构造一个因计划级超时而未启动的结果。
func cancelledOutcome(call *plan.ToolCall) plan.StepOutcome {
	return plan.StepOutcome{
		Step:         call.Step,
		ToolName:     call.ToolName,
		ErrorCode:    CodeCallTimeout,
		ErrorMessage: "计划级超时，调用未启动",
	}
}
