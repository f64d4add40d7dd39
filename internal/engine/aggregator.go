package engine

import (
	"fmt"

	"ToolFlow/internal/plan"
)

// aggregate 把逐步结果汇总为策略感知的最终输出。
// SINGLE/SEQUENTIAL 取拓扑序上最后一个成功调用的值作为终端结果；
// PARALLEL/HYBRID 返回带标签的完整结果集合，成功与失败都包含在内，
// 以便调用方在整体失败时仍能读取部分结果。
func aggregate(p *plan.ExecutionPlan, outcomes []plan.StepOutcome) *plan.ExecutionResult {
	result := &plan.ExecutionResult{
		Strategy: p.Strategy,
		Outcomes: outcomes,
	}

	overall := true
	for _, outcome := range outcomes {
		if !outcome.Success {
			overall = false
			break
		}
	}
	result.OverallSuccess = overall

	switch p.Strategy {
	case plan.StrategyParallel, plan.StrategyHybrid:
		result.FinalValue = labeledCollection(p, outcomes)
	default:
		if !overall {
			return result
		}
		if terminal, ok := terminalOutcome(p, outcomes); ok {
			result.FinalValue = terminal.Value
		}
	}
	return result
}

// terminalOutcome 返回拓扑序上最后一个成功完成的调用结果。
func terminalOutcome(p *plan.ExecutionPlan, outcomes []plan.StepOutcome) (plan.StepOutcome, bool) {
	order, err := p.TopologicalOrder()
	if err != nil {
		return plan.StepOutcome{}, false
	}
	byStep := make(map[int]plan.StepOutcome, len(outcomes))
	for _, outcome := range outcomes {
		byStep[outcome.Step] = outcome
	}
	for i := len(order) - 1; i >= 0; i-- {
		if outcome, ok := byStep[order[i].Step]; ok && outcome.Success {
			return outcome, true
		}
	}
	return plan.StepOutcome{}, false
}

// labeledCollection 以结果变量名（缺省为工具名）为键汇总所有结果；
// 标签冲突时追加 #step 后缀保证键唯一。失败的调用记录错误码与消息，
// 绝不静默丢弃。
func labeledCollection(p *plan.ExecutionPlan, outcomes []plan.StepOutcome) map[string]any {
	labels := make(map[int]string, len(p.Calls))
	used := make(map[string]int, len(p.Calls))
	for _, call := range p.Calls {
		base := call.ResultVariable
		if base == "" {
			base = call.ToolName
		}
		label := base
		if used[base] > 0 {
			label = fmt.Sprintf("%s#%d", base, call.Step)
		}
		used[base]++
		labels[call.Step] = label
	}

	collection := make(map[string]any, len(outcomes))
	for _, outcome := range outcomes {
		label := labels[outcome.Step]
		if outcome.Success {
			collection[label] = outcome.Value
			continue
		}
		collection[label] = map[string]any{
			"error_code":    string(outcome.ErrorCode),
			"error_message": outcome.ErrorMessage,
		}
	}
	return collection
}
