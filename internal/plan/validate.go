package plan

import (
	"fmt"
	"sort"

	xerrors "ToolFlow/internal/errors"
)

// invalid 构造一个携带 PLAN_INVALID 错误码的校验错误。
func invalid(format string, args ...any) error {
	return xerrors.New(CodePlanInvalid, fmt.Sprintf(format, args...))
}

// Validate 在执行前对计划做一次完整校验：步骤编号唯一、策略合法、
// 依赖与变量引用均可解析、结果变量不重复、依赖图无环。
// 校验失败返回 PLAN_INVALID，此时引擎不得产生任何副作用。
func (p *ExecutionPlan) Validate() error {
	if p == nil || len(p.Calls) == 0 {
		return invalid("计划中没有任何调用")
	}
	if !IsValidStrategy(p.Strategy) {
		return invalid("未知的执行策略: %s", p.Strategy)
	}
	if p.Strategy == StrategySingle && len(p.Calls) != 1 {
		return invalid("SINGLE 策略要求恰好一个调用，实际 %d 个", len(p.Calls))
	}

	steps := make(map[int]*ToolCall, len(p.Calls))
	producers := make(map[string]int, len(p.Calls))
	for _, call := range p.Calls {
		if call == nil {
			return invalid("计划中包含空调用")
		}
		if call.Step <= 0 {
			return invalid("步骤编号必须为正数，实际 %d", call.Step)
		}
		if call.ToolName == "" {
			return invalid("步骤 %d 未指定工具名", call.Step)
		}
		if _, ok := steps[call.Step]; ok {
			return invalid("步骤编号 %d 重复", call.Step)
		}
		steps[call.Step] = call
		if call.ResultVariable != "" {
			if !varNamePattern.MatchString(call.ResultVariable) {
				return invalid("步骤 %d 的结果变量名 %s 不合法，只允许字母、数字与下划线且不能以数字开头", call.Step, call.ResultVariable)
			}
			if first, ok := producers[call.ResultVariable]; ok {
				return invalid("结果变量 %s 同时由步骤 %d 与 %d 声明", call.ResultVariable, first, call.Step)
			}
			producers[call.ResultVariable] = call.Step
		}
	}

	prereqs, err := p.prerequisites(steps, producers)
	if err != nil {
		return err
	}

	if p.Strategy == StrategyParallel {
		for _, call := range p.Calls {
			if len(prereqs[call.Step]) > 0 {
				return invalid("PARALLEL 策略不允许步骤间依赖，步骤 %d 存在依赖", call.Step)
			}
		}
	}

	// Kahn 拓扑检查：存在无法完成的节点即有环。
	if _, err := layerize(p.Calls, prereqs); err != nil {
		return err
	}
	return nil
}

// Prerequisites 返回每个步骤的直接前置步骤集合（显式依赖与变量引用的并集）。
// 调用前必须通过 Validate。
func (p *ExecutionPlan) Prerequisites() map[int][]int {
	steps := make(map[int]*ToolCall, len(p.Calls))
	producers := make(map[string]int, len(p.Calls))
	for _, call := range p.Calls {
		steps[call.Step] = call
		if call.ResultVariable != "" {
			producers[call.ResultVariable] = call.Step
		}
	}
	prereqs, err := p.prerequisites(steps, producers)
	if err != nil {
		return nil
	}
	return prereqs
}

// prerequisites 合并显式依赖与变量引用得到依赖关系，并校验引用有效。
func (p *ExecutionPlan) prerequisites(steps map[int]*ToolCall, producers map[string]int) (map[int][]int, error) {
	prereqs := make(map[int][]int, len(p.Calls))
	for _, call := range p.Calls {
		seen := make(map[int]struct{})
		for _, dep := range call.DependsOn {
			if dep == call.Step {
				return nil, invalid("步骤 %d 不能依赖自身", call.Step)
			}
			if _, ok := steps[dep]; !ok {
				return nil, invalid("步骤 %d 依赖了不存在的步骤 %d", call.Step, dep)
			}
			seen[dep] = struct{}{}
		}
		for _, name := range call.VariableReferences() {
			producer, ok := producers[name]
			if !ok {
				return nil, invalid("步骤 %d 引用的变量 %s 没有任何调用声明", call.Step, name)
			}
			if producer == call.Step {
				return nil, invalid("步骤 %d 引用了自身的结果变量 %s", call.Step, name)
			}
			seen[producer] = struct{}{}
		}
		if len(seen) == 0 {
			prereqs[call.Step] = nil
			continue
		}
		deps := make([]int, 0, len(seen))
		for dep := range seen {
			deps = append(deps, dep)
		}
		sort.Ints(deps)
		prereqs[call.Step] = deps
	}
	return prereqs, nil
}

// Layers 按依赖关系把调用划分为可并发的层：第 0 层没有任何前置，
// 第 k 层的所有前置都落在更早的层。层内按步骤编号升序。
func (p *ExecutionPlan) Layers() ([][]*ToolCall, error) {
	steps := make(map[int]*ToolCall, len(p.Calls))
	producers := make(map[string]int, len(p.Calls))
	for _, call := range p.Calls {
		steps[call.Step] = call
		if call.ResultVariable != "" {
			producers[call.ResultVariable] = call.Step
		}
	}
	prereqs, err := p.prerequisites(steps, producers)
	if err != nil {
		return nil, err
	}
	return layerize(p.Calls, prereqs)
}

// TopologicalOrder 返回依赖图的一个拓扑序，同层按步骤编号升序，
// 用于 SEQUENTIAL 策略的逐个执行。
func (p *ExecutionPlan) TopologicalOrder() ([]*ToolCall, error) {
	layers, err := p.Layers()
	if err != nil {
		return nil, err
	}
	order := make([]*ToolCall, 0, len(p.Calls))
	for _, layer := range layers {
		order = append(order, layer...)
	}
	return order, nil
}

// layerize 对依赖图做 Kahn 分层，检测到环时返回 PLAN_INVALID。
func layerize(calls []*ToolCall, prereqs map[int][]int) ([][]*ToolCall, error) {
	remaining := make(map[int][]int, len(calls))
	for _, call := range calls {
		deps := prereqs[call.Step]
		remaining[call.Step] = append([]int(nil), deps...)
	}

	done := make(map[int]struct{}, len(calls))
	var layers [][]*ToolCall
	for len(done) < len(calls) {
		var layer []*ToolCall
		for _, call := range calls {
			if _, ok := done[call.Step]; ok {
				continue
			}
			ready := true
			for _, dep := range remaining[call.Step] {
				if _, ok := done[dep]; !ok {
					ready = false
					break
				}
			}
			if ready {
				layer = append(layer, call)
			}
		}
		if len(layer) == 0 {
			cycle := make([]int, 0, len(calls)-len(done))
			for _, call := range calls {
				if _, ok := done[call.Step]; !ok {
					cycle = append(cycle, call.Step)
				}
			}
			sort.Ints(cycle)
			return nil, invalid("依赖关系存在环，涉及步骤 %v", cycle)
		}
		sort.Slice(layer, func(i, j int) bool { return layer[i].Step < layer[j].Step })
		for _, call := range layer {
			done[call.Step] = struct{}{}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// TransitiveDependents 返回直接或间接依赖 step 的所有步骤编号，升序。
func (p *ExecutionPlan) TransitiveDependents(step int) []int {
	prereqs := p.Prerequisites()
	if prereqs == nil {
		return nil
	}
	dependents := make(map[int][]int, len(prereqs))
	for s, deps := range prereqs {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], s)
		}
	}

	seen := make(map[int]struct{})
	queue := append([]int(nil), dependents[step]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if _, ok := seen[next]; ok {
			continue
		}
		seen[next] = struct{}{}
		queue = append(queue, dependents[next]...)
	}
	if len(seen) == 0 {
		return nil
	}
	result := make([]int, 0, len(seen))
	for s := range seen {
		result = append(result, s)
	}
	sort.Ints(result)
	return result
}
