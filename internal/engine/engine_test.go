package engine

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ToolFlow/internal/plan"
	"ToolFlow/internal/provider"
)

// stubInvoker 以内存表驱动工具调用，并记录每次调用供断言使用。
type stubInvoker struct {
	mu    sync.Mutex
	tools map[string]func(ctx context.Context, params map[string]any) (any, error)
	calls []stubCall
}

type stubCall struct {
	tool   string
	params map[string]any
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{tools: make(map[string]func(context.Context, map[string]any) (any, error))}
}

func (s *stubInvoker) register(tool string, fn func(context.Context, map[string]any) (any, error)) {
	s.tools[tool] = fn
}

func (s *stubInvoker) Has(tool string) bool {
	_, ok := s.tools[tool]
	return ok
}

func (s *stubInvoker) Invoke(ctx context.Context, tool string, params map[string]any) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, stubCall{tool: tool, params: params})
	fn := s.tools[tool]
	s.mu.Unlock()
	if fn == nil {
		return nil, provider.ErrToolUnknown
	}
	return fn(ctx, params)
}

func (s *stubInvoker) invocationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubInvoker) invokedTools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	tools := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		tools = append(tools, c.tool)
	}
	return tools
}

var _ provider.Invoker = (*stubInvoker)(nil)

func constant(v any) func(context.Context, map[string]any) (any, error) {
	return func(context.Context, map[string]any) (any, error) {
		return v, nil
	}
}

func failing(message string) func(context.Context, map[string]any) (any, error) {
	return func(context.Context, map[string]any) (any, error) {
		return nil, stdErrors.New(message)
	}
}

func mustOutcome(t *testing.T, result *plan.ExecutionResult, step int) plan.StepOutcome {
	t.Helper()
	outcome, ok := result.Outcome(step)
	if !ok {
		t.Fatalf("missing outcome for step %d", step)
	}
	return outcome
}

func TestExecuteSingleSuccess(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("add", func(_ context.Context, params map[string]any) (any, error) {
		return params["a"].(float64) + params["b"].(float64), nil
	})

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls: []*plan.ToolCall{{
			Step:     1,
			ToolName: "add",
			Parameters: map[string]plan.ParamValue{
				"a": plan.Literal(float64(3)),
				"b": plan.Literal(float64(4)),
			},
		}},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.OverallSuccess {
		t.Fatalf("expected overall success: %+v", result)
	}
	if result.FinalValue != float64(7) {
		t.Fatalf("unexpected final value: %v", result.FinalValue)
	}
	if len(result.Outcomes) != 1 || !result.Outcomes[0].Success {
		t.Fatalf("unexpected outcomes: %+v", result.Outcomes)
	}
}

func TestExecuteSequentialVariableSubstitution(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("add", constant(float64(7)))
	invoker.register("multiply", func(_ context.Context, params map[string]any) (any, error) {
		return params["a"].(float64) * params["b"].(float64), nil
	})

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySequential,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "add", ResultVariable: "sum"},
			{Step: 2, ToolName: "multiply", DependsOn: plan.StepSet{1}, Parameters: map[string]plan.ParamValue{
				"a": plan.Variable("sum"),
				"b": plan.Literal(float64(10)),
			}},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.OverallSuccess {
		t.Fatalf("expected overall success: %+v", result)
	}
	if result.FinalValue != float64(70) {
		t.Fatalf("expected terminal value 70, got %v", result.FinalValue)
	}

	invoker.mu.Lock()
	defer invoker.mu.Unlock()
	if len(invoker.calls) != 2 {
		t.Fatalf("expected 2 invocations, got %d", len(invoker.calls))
	}
	if invoker.calls[1].params["a"] != float64(7) {
		t.Fatalf("variable was not substituted: %v", invoker.calls[1].params)
	}
}

func TestExecuteSequentialSkipsTransitiveDependents(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("boom", failing("storage offline"))
	invoker.register("next", constant("unreachable"))
	invoker.register("independent", constant("alive"))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySequential,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "boom"},
			{Step: 2, ToolName: "next", DependsOn: plan.StepSet{1}},
			{Step: 3, ToolName: "next", DependsOn: plan.StepSet{2}},
			{Step: 4, ToolName: "independent"},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OverallSuccess {
		t.Fatalf("expected overall failure")
	}

	first := mustOutcome(t, result, 1)
	if first.Success || first.ErrorCode != CodeToolExecution {
		t.Fatalf("unexpected outcome for step 1: %+v", first)
	}
	for _, step := range []int{2, 3} {
		outcome := mustOutcome(t, result, step)
		if outcome.Success || outcome.ErrorCode != CodeUpstreamFailure {
			t.Fatalf("step %d should be skipped with upstream failure: %+v", step, outcome)
		}
	}
	last := mustOutcome(t, result, 4)
	if !last.Success || last.Value != "alive" {
		t.Fatalf("independent step should still run: %+v", last)
	}

	// 被跳过的步骤绝不触发真实调用。
	tools := invoker.invokedTools()
	if len(tools) != 2 {
		t.Fatalf("expected exactly 2 invocations, got %v", tools)
	}
	if result.FinalValue != nil {
		t.Fatalf("sequential failure should not expose a terminal value: %v", result.FinalValue)
	}
}

func TestExecuteParallelIsolatesFailures(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("ok_a", constant("A"))
	invoker.register("boom", failing("remote unavailable"))
	invoker.register("ok_b", constant("B"))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategyParallel,
		Calls: []*plan.ToolCall{
			{Step: 3, ToolName: "ok_b", ResultVariable: "b"},
			{Step: 1, ToolName: "ok_a", ResultVariable: "a"},
			{Step: 2, ToolName: "boom"},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OverallSuccess {
		t.Fatalf("expected overall failure")
	}
	if invoker.invocationCount() != 3 {
		t.Fatalf("every parallel call must run, got %d invocations", invoker.invocationCount())
	}

	// 结果始终按步骤编号升序，与完成顺序无关。
	for i, outcome := range result.Outcomes {
		if outcome.Step != i+1 {
			t.Fatalf("outcomes not sorted by step: %+v", result.Outcomes)
		}
	}

	collection, ok := result.FinalValue.(map[string]any)
	if !ok {
		t.Fatalf("expected labeled collection, got %T", result.FinalValue)
	}
	if collection["a"] != "A" || collection["b"] != "B" {
		t.Fatalf("unexpected success entries: %v", collection)
	}
	failure, ok := collection["boom"].(map[string]any)
	if !ok {
		t.Fatalf("failure entry missing: %v", collection)
	}
	if failure["error_code"] != string(CodeToolExecution) {
		t.Fatalf("unexpected failure entry: %v", failure)
	}
}

func TestExecuteParallelLabelCollision(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("fetch", constant("data"))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategyParallel,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "fetch"},
			{Step: 2, ToolName: "fetch"},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	collection := result.FinalValue.(map[string]any)
	if _, ok := collection["fetch"]; !ok {
		t.Fatalf("first label missing: %v", collection)
	}
	if _, ok := collection["fetch#2"]; !ok {
		t.Fatalf("collision label missing: %v", collection)
	}
}

func TestExecuteHybridLayerBarrier(t *testing.T) {
	var firstLayerDone atomic.Int32

	invoker := newStubInvoker()
	invoker.register("left", func(context.Context, map[string]any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		firstLayerDone.Add(1)
		return float64(1), nil
	})
	invoker.register("right", func(context.Context, map[string]any) (any, error) {
		firstLayerDone.Add(1)
		return float64(2), nil
	})
	invoker.register("join", func(_ context.Context, params map[string]any) (any, error) {
		if firstLayerDone.Load() != 2 {
			return nil, stdErrors.New("layer barrier violated")
		}
		return params["l"].(float64) + params["r"].(float64), nil
	})

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategyHybrid,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "left", ResultVariable: "l"},
			{Step: 2, ToolName: "right", ResultVariable: "r"},
			{Step: 3, ToolName: "join", Parameters: map[string]plan.ParamValue{
				"l": plan.Variable("l"),
				"r": plan.Variable("r"),
			}},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.OverallSuccess {
		t.Fatalf("expected overall success: %+v", result.Outcomes)
	}
	collection := result.FinalValue.(map[string]any)
	if collection["join"] != float64(3) {
		t.Fatalf("unexpected join result: %v", collection)
	}
}

func TestExecuteHybridSkipsDependentsRunsSiblings(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("boom", failing("node down"))
	invoker.register("steady", constant("ok"))
	invoker.register("after", constant("ran"))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategyHybrid,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "boom"},
			{Step: 2, ToolName: "steady", ResultVariable: "base"},
			{Step: 3, ToolName: "after", DependsOn: plan.StepSet{1}},
			{Step: 4, ToolName: "after", DependsOn: plan.StepSet{2}},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OverallSuccess {
		t.Fatalf("expected overall failure")
	}

	skipped := mustOutcome(t, result, 3)
	if skipped.Success || skipped.ErrorCode != CodeUpstreamFailure {
		t.Fatalf("step 3 should be skipped: %+v", skipped)
	}
	sibling := mustOutcome(t, result, 4)
	if !sibling.Success {
		t.Fatalf("step 4 must still run: %+v", sibling)
	}
	if invoker.invocationCount() != 3 {
		t.Fatalf("skipped step must not be invoked, got %d invocations", invoker.invocationCount())
	}
}

func TestExecuteInvalidPlanHasNoSideEffects(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("a", constant(1))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySequential,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "a", DependsOn: plan.StepSet{2}},
			{Step: 2, ToolName: "a", DependsOn: plan.StepSet{1}},
		},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !stdErrors.Is(err, plan.ErrPlanInvalid) {
		t.Fatalf("expected PLAN_INVALID, got %v", err)
	}
	if result != nil {
		t.Fatalf("invalid plan must not produce a result")
	}
	if invoker.invocationCount() != 0 {
		t.Fatalf("invalid plan must not invoke any tool")
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	invoker := newStubInvoker()

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls:    []*plan.ToolCall{{Step: 1, ToolName: "ghost"}},
	}

	result, err := New(invoker).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	outcome := mustOutcome(t, result, 1)
	if outcome.Success || outcome.ErrorCode != provider.CodeToolUnknown {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if invoker.invocationCount() != 0 {
		t.Fatalf("unknown tool must not be invoked")
	}
}

func TestExecuteCallTimeout(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls:    []*plan.ToolCall{{Step: 1, ToolName: "slow"}},
	}

	result, err := New(invoker, WithCallTimeout(20*time.Millisecond)).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	outcome := mustOutcome(t, result, 1)
	if outcome.Success || outcome.ErrorCode != CodeCallTimeout {
		t.Fatalf("expected call timeout, got %+v", outcome)
	}
}

func TestExecuteCancellationClassifiedAsTimeout(t *testing.T) {
	started := make(chan struct{})
	invoker := newStubInvoker()
	invoker.register("hang", func(ctx context.Context, _ map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls:    []*plan.ToolCall{{Step: 1, ToolName: "hang"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := New(invoker).Execute(ctx, p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	outcome := mustOutcome(t, result, 1)
	// 中途取消与超时同属调用未完成，不能误报为工具执行失败。
	if outcome.Success || outcome.ErrorCode != CodeCallTimeout {
		t.Fatalf("cancellation misclassified: %+v", outcome)
	}
}

func TestExecutePlanTimeoutMarksUnstartedCalls(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-time.After(time.Second):
			return "late", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	invoker.register("never", constant("should not run"))

	p := &plan.ExecutionPlan{
		Strategy: plan.StrategySequential,
		Calls: []*plan.ToolCall{
			{Step: 1, ToolName: "slow"},
			{Step: 2, ToolName: "never"},
		},
	}

	result, err := New(invoker, WithPlanTimeout(30*time.Millisecond)).Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.OverallSuccess {
		t.Fatalf("expected overall failure")
	}

	first := mustOutcome(t, result, 1)
	if first.ErrorCode != CodeCallTimeout {
		t.Fatalf("in-flight call should time out: %+v", first)
	}
	second := mustOutcome(t, result, 2)
	if second.ErrorCode != CodeCallTimeout || second.DurationMs != 0 {
		t.Fatalf("unstarted call should be marked timed out without running: %+v", second)
	}
	for _, tool := range invoker.invokedTools() {
		if tool == "never" {
			t.Fatalf("step 2 must not be invoked after plan timeout")
		}
	}
}

func TestExecuteStatelessAcrossRuns(t *testing.T) {
	invoker := newStubInvoker()
	invoker.register("emit", constant("value"))
	invoker.register("consume", func(_ context.Context, params map[string]any) (any, error) {
		return fmt.Sprintf("got %v", params["x"]), nil
	})

	eng := New(invoker)
	publish := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls:    []*plan.ToolCall{{Step: 1, ToolName: "emit", ResultVariable: "leftover"}},
	}
	if _, err := eng.Execute(context.Background(), publish); err != nil {
		t.Fatalf("first execute: %v", err)
	}

	// 引用上一次执行变量的计划必须在校验阶段被拒绝：变量不跨执行存活。
	reuse := &plan.ExecutionPlan{
		Strategy: plan.StrategySingle,
		Calls: []*plan.ToolCall{{Step: 1, ToolName: "consume", Parameters: map[string]plan.ParamValue{
			"x": plan.Variable("leftover"),
		}}},
	}
	if _, err := eng.Execute(context.Background(), reuse); err == nil {
		t.Fatalf("expected validation failure for dangling variable")
	}
}
