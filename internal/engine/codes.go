package engine

import (
	xerrors "ToolFlow/internal/errors"
)

const (
	// CodeVariableUnresolved 表示解析参数时引用的变量尚未发布。
	// 正常调度下不应出现，出现即说明计划悬空引用或调度器缺陷。
	CodeVariableUnresolved xerrors.Code = "VARIABLE_UNRESOLVED"
	// CodeCallTimeout 表示单次工具调用超出时限。
	CodeCallTimeout xerrors.Code = "CALL_TIMEOUT"
	// CodeToolExecution 表示提供方执行工具时报告了失败。
	CodeToolExecution xerrors.Code = "TOOL_EXECUTION_FAILED"
	// CodeUpstreamFailure 表示调用因上游步骤未成功而被跳过。
	CodeUpstreamFailure xerrors.Code = "UPSTREAM_FAILURE"
)

func init() {
	xerrors.Register(CodeVariableUnresolved, xerrors.Attributes{
		Message:   "variable reference unresolved",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeCallTimeout, xerrors.Attributes{
		Message:   "tool call timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeToolExecution, xerrors.Attributes{
		Message:   "tool execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeUpstreamFailure, xerrors.Attributes{
		Message:   "skipped because an upstream step failed",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}
