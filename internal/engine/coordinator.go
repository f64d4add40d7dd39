package engine

import (
	"context"
	"sort"
	"sync"

	"ToolFlow/internal/plan"
)

// coordinator 根据计划声明的策略决定哪些调用可以并发、哪些必须等待，
// 并保证依赖与变量引用约束始终被满足。
type coordinator struct {
	exec *stepExecutor
	p    *plan.ExecutionPlan
}

// run 执行整个计划并返回按步骤编号升序排列的结果列表。
func (c *coordinator) run(ctx context.Context) []plan.StepOutcome {
	var outcomes []plan.StepOutcome
	switch c.p.Strategy {
	case plan.StrategyParallel:
		outcomes = c.runParallel(ctx)
	case plan.StrategyHybrid:
		outcomes = c.runLayers(ctx)
	default:
		// SINGLE 是 SEQUENTIAL 的退化情形。
		outcomes = c.runSequential(ctx)
	}
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Step < outcomes[j].Step })
	return outcomes
}

// runSequential 按拓扑序逐个执行，前置步骤失败时跳过其传递依赖方，
// 互相独立的分支继续执行。
func (c *coordinator) runSequential(ctx context.Context) []plan.StepOutcome {
	order, err := c.p.TopologicalOrder()
	if err != nil {
		// Validate 已保证无环，这里不可达。
		return nil
	}
	prereqs := c.p.Prerequisites()

	outcomes := make([]plan.StepOutcome, 0, len(order))
	unmet := make(map[int]bool, len(order))
	for _, call := range order {
		if ctx.Err() != nil {
			outcomes = append(outcomes, cancelledOutcome(call))
			unmet[call.Step] = true
			continue
		}
		blocked := 0
		for _, dep := range prereqs[call.Step] {
			if unmet[dep] {
				blocked = dep
				break
			}
		}
		if blocked != 0 {
			outcomes = append(outcomes, skippedOutcome(call, blocked))
			unmet[call.Step] = true
			continue
		}
		outcome := c.exec.execute(ctx, call)
		outcomes = append(outcomes, outcome)
		if !outcome.Success {
			unmet[call.Step] = true
		}
	}
	return outcomes
}

// runParallel 同时启动所有调用并等待全部结束。
// 单个调用失败不会取消其兄弟调用，部分成功对调用方而言是有意义的。
func (c *coordinator) runParallel(ctx context.Context) []plan.StepOutcome {
	outcomes := make([]plan.StepOutcome, len(c.p.Calls))
	var wg sync.WaitGroup
	for i, call := range c.p.Calls {
		wg.Add(1)
		go func(idx int, call *plan.ToolCall) {
			defer wg.Done()
			outcomes[idx] = c.exec.execute(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return outcomes
}

// runLayers 把调用划分为依赖层：层内并发执行，层间设置完整屏障，
// 保证后一层解析参数前能看到前一层的全部变量写入。
func (c *coordinator) runLayers(ctx context.Context) []plan.StepOutcome {
	layers, err := c.p.Layers()
	if err != nil {
		return nil
	}
	prereqs := c.p.Prerequisites()

	var outcomes []plan.StepOutcome
	unmet := make(map[int]bool)
	var mu sync.Mutex

	for _, layer := range layers {
		if ctx.Err() != nil {
			for _, call := range layer {
				outcomes = append(outcomes, cancelledOutcome(call))
				unmet[call.Step] = true
			}
			continue
		}

		runnable := make([]*plan.ToolCall, 0, len(layer))
		for _, call := range layer {
			blocked := 0
			for _, dep := range prereqs[call.Step] {
				if unmet[dep] {
					blocked = dep
					break
				}
			}
			if blocked != 0 {
				outcomes = append(outcomes, skippedOutcome(call, blocked))
				unmet[call.Step] = true
				continue
			}
			runnable = append(runnable, call)
		}

		var wg sync.WaitGroup
		for _, call := range runnable {
			wg.Add(1)
			go func(call *plan.ToolCall) {
				defer wg.Done()
				outcome := c.exec.execute(ctx, call)
				mu.Lock()
				outcomes = append(outcomes, outcome)
				if !outcome.Success {
					unmet[call.Step] = true
				}
				mu.Unlock()
			}(call)
		}
		// 层屏障：下一层开始解析前，本层必须全部到达终态。
		wg.Wait()
	}
	return outcomes
}
