package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type planKey struct {
	strategy string
	outcome  string
}

type toolKey struct {
	tool    string
	outcome string
}

type executionCollector struct {
	mu        sync.Mutex
	plans     map[planKey]uint64
	planTimes map[string]*histogram
	tools     map[toolKey]uint64
}

var execCollector = &executionCollector{
	plans:     make(map[planKey]uint64),
	planTimes: make(map[string]*histogram),
	tools:     make(map[toolKey]uint64),
}

// ObservePlanExecution records the outcome of one plan execution.
func ObservePlanExecution(strategy string, success bool, duration time.Duration) {
	execCollector.mu.Lock()
	defer execCollector.mu.Unlock()

	execCollector.plans[planKey{strategy: strategy, outcome: outcomeLabel(success)}]++
	hist := execCollector.planTimes[strategy]
	if hist == nil {
		hist = newHistogram()
		execCollector.planTimes[strategy] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveToolCall records the outcome of one tool invocation.
func ObserveToolCall(tool string, success bool) {
	execCollector.mu.Lock()
	defer execCollector.mu.Unlock()
	execCollector.tools[toolKey{tool: tool, outcome: outcomeLabel(success)}]++
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (c *executionCollector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var builder strings.Builder
	builder.Grow(512)

	planKeys := make([]planKey, 0, len(c.plans))
	for key := range c.plans {
		planKeys = append(planKeys, key)
	}
	sort.Slice(planKeys, func(i, j int) bool {
		if planKeys[i].strategy == planKeys[j].strategy {
			return planKeys[i].outcome < planKeys[j].outcome
		}
		return planKeys[i].strategy < planKeys[j].strategy
	})

	builder.WriteString("# HELP toolflow_plan_executions_total Total number of plan executions by strategy and outcome.\n")
	builder.WriteString("# TYPE toolflow_plan_executions_total counter\n")
	for _, key := range planKeys {
		builder.WriteString(fmt.Sprintf("toolflow_plan_executions_total{strategy=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.strategy), escape(key.outcome), c.plans[key]))
	}

	strategies := make([]string, 0, len(c.planTimes))
	for strategy := range c.planTimes {
		strategies = append(strategies, strategy)
	}
	sort.Strings(strategies)

	builder.WriteString("# HELP toolflow_plan_duration_seconds Plan execution duration in seconds.\n")
	builder.WriteString("# TYPE toolflow_plan_duration_seconds histogram\n")
	for _, strategy := range strategies {
		writeHistogram(&builder, "toolflow_plan_duration_seconds",
			fmt.Sprintf("strategy=\"%s\"", escape(strategy)), c.planTimes[strategy].snapshot())
	}

	toolKeys := make([]toolKey, 0, len(c.tools))
	for key := range c.tools {
		toolKeys = append(toolKeys, key)
	}
	sort.Slice(toolKeys, func(i, j int) bool {
		if toolKeys[i].tool == toolKeys[j].tool {
			return toolKeys[i].outcome < toolKeys[j].outcome
		}
		return toolKeys[i].tool < toolKeys[j].tool
	})

	builder.WriteString("# HELP toolflow_tool_calls_total Total number of tool invocations by outcome.\n")
	builder.WriteString("# TYPE toolflow_tool_calls_total counter\n")
	for _, key := range toolKeys {
		builder.WriteString(fmt.Sprintf("toolflow_tool_calls_total{tool=\"%s\",outcome=\"%s\"} %d\n",
			escape(key.tool), escape(key.outcome), c.tools[key]))
	}

	return builder.String()
}
