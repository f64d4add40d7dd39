package plan

import (
	stdErrors "errors"
	"reflect"
	"testing"
)

func call(step int, tool string, mutate ...func(*ToolCall)) *ToolCall {
	c := &ToolCall{Step: step, ToolName: tool}
	for _, m := range mutate {
		m(c)
	}
	return c
}

func withDeps(deps ...int) func(*ToolCall) {
	return func(c *ToolCall) { c.DependsOn = StepSet(deps) }
}

func withResult(name string) func(*ToolCall) {
	return func(c *ToolCall) { c.ResultVariable = name }
}

func withVarParam(key, variable string) func(*ToolCall) {
	return func(c *ToolCall) {
		if c.Parameters == nil {
			c.Parameters = map[string]ParamValue{}
		}
		c.Parameters[key] = Variable(variable)
	}
}

func TestValidateRejectsInvalidPlans(t *testing.T) {
	cases := []struct {
		name string
		plan *ExecutionPlan
	}{
		{"empty plan", &ExecutionPlan{Strategy: StrategySequential}},
		{"unknown strategy", &ExecutionPlan{Strategy: "PIPELINE", Calls: []*ToolCall{call(1, "a")}}},
		{"single with two calls", &ExecutionPlan{Strategy: StrategySingle, Calls: []*ToolCall{call(1, "a"), call(2, "b")}}},
		{"non positive step", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{call(0, "a")}}},
		{"missing tool name", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{call(1, "")}}},
		{"duplicate step", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{call(1, "a"), call(1, "b")}}},
		{"duplicate result variable", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{
			call(1, "a", withResult("out")),
			call(2, "b", withResult("out")),
		}}},
		{"unreferenceable result variable", &ExecutionPlan{Strategy: StrategySingle, Calls: []*ToolCall{
			call(1, "a", withResult("my-var")),
		}}},
		{"result variable starting with digit", &ExecutionPlan{Strategy: StrategySingle, Calls: []*ToolCall{
			call(1, "a", withResult("1st")),
		}}},
		{"self dependency", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{call(1, "a", withDeps(1))}}},
		{"unknown dependency", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{call(1, "a", withDeps(9))}}},
		{"unresolvable variable", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{
			call(1, "a", withVarParam("x", "ghost")),
		}}},
		{"self variable reference", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{
			call(1, "a", withResult("out"), withVarParam("x", "out")),
		}}},
		{"parallel with dependency", &ExecutionPlan{Strategy: StrategyParallel, Calls: []*ToolCall{
			call(1, "a"),
			call(2, "b", withDeps(1)),
		}}},
		{"parallel with variable reference", &ExecutionPlan{Strategy: StrategyParallel, Calls: []*ToolCall{
			call(1, "a", withResult("out")),
			call(2, "b", withVarParam("x", "out")),
		}}},
		{"dependency cycle", &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{
			call(1, "a", withDeps(3)),
			call(2, "b", withDeps(1)),
			call(3, "c", withDeps(2)),
		}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.plan.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !stdErrors.Is(err, ErrPlanInvalid) {
				t.Fatalf("expected PLAN_INVALID, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsWellFormedPlans(t *testing.T) {
	plans := []*ExecutionPlan{
		{Strategy: StrategySingle, Calls: []*ToolCall{call(1, "a")}},
		{Strategy: StrategyParallel, Calls: []*ToolCall{call(1, "a"), call(2, "b"), call(3, "c")}},
		{Strategy: StrategySequential, Calls: []*ToolCall{
			call(1, "a", withResult("out")),
			call(2, "b", withVarParam("x", "out")),
		}},
		{Strategy: StrategyHybrid, Calls: []*ToolCall{
			call(1, "a", withResult("left")),
			call(2, "b", withResult("right")),
			call(3, "c", withVarParam("l", "left"), withVarParam("r", "right")),
		}},
	}
	for _, p := range plans {
		if err := p.Validate(); err != nil {
			t.Fatalf("plan should be valid: %v", err)
		}
	}
}

func TestPrerequisitesMergeExplicitAndImplicit(t *testing.T) {
	p := &ExecutionPlan{Strategy: StrategyHybrid, Calls: []*ToolCall{
		call(1, "a", withResult("out")),
		call(2, "b"),
		call(3, "c", withDeps(2), withVarParam("x", "out")),
	}}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	prereqs := p.Prerequisites()
	if !reflect.DeepEqual(prereqs[3], []int{1, 2}) {
		t.Fatalf("unexpected prerequisites for step 3: %v", prereqs[3])
	}
	if prereqs[1] != nil || prereqs[2] != nil {
		t.Fatalf("steps without deps should have nil prerequisites: %v", prereqs)
	}
}

func TestLayersPartitionByDependencyDepth(t *testing.T) {
	p := &ExecutionPlan{Strategy: StrategyHybrid, Calls: []*ToolCall{
		call(4, "d", withDeps(2, 3)),
		call(1, "a"),
		call(3, "c", withDeps(1)),
		call(2, "b"),
	}}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	layers, err := p.Layers()
	if err != nil {
		t.Fatalf("layers: %v", err)
	}
	got := make([][]int, 0, len(layers))
	for _, layer := range layers {
		steps := make([]int, 0, len(layer))
		for _, c := range layer {
			steps = append(steps, c.Step)
		}
		got = append(got, steps)
	}
	want := [][]int{{1, 2}, {3}, {4}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected layers: %v", got)
	}

	order, err := p.TopologicalOrder()
	if err != nil {
		t.Fatalf("topological order: %v", err)
	}
	steps := make([]int, 0, len(order))
	for _, c := range order {
		steps = append(steps, c.Step)
	}
	if !reflect.DeepEqual(steps, []int{1, 2, 3, 4}) {
		t.Fatalf("unexpected order: %v", steps)
	}
}

func TestTransitiveDependents(t *testing.T) {
	p := &ExecutionPlan{Strategy: StrategySequential, Calls: []*ToolCall{
		call(1, "a"),
		call(2, "b", withDeps(1)),
		call(3, "c", withDeps(2)),
		call(4, "d"),
	}}
	if err := p.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if got := p.TransitiveDependents(1); !reflect.DeepEqual(got, []int{2, 3}) {
		t.Fatalf("unexpected dependents of 1: %v", got)
	}
	if got := p.TransitiveDependents(4); got != nil {
		t.Fatalf("step 4 should have no dependents: %v", got)
	}
}
