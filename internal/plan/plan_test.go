package plan

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParamValueJSONRoundTrip(t *testing.T) {
	raw := `{"a": 3, "b": "${sum}", "c": "plain", "d": "${not a ref}"}`

	var params map[string]ParamValue
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}

	if params["a"].IsVariable() {
		t.Fatalf("a should be a literal")
	}
	if got := params["a"].Value(); got != float64(3) {
		t.Fatalf("unexpected literal for a: %v", got)
	}
	if !params["b"].IsVariable() || params["b"].VariableName() != "sum" {
		t.Fatalf("b should reference sum, got %+v", params["b"])
	}
	if params["c"].IsVariable() {
		t.Fatalf("c should be a literal string")
	}
	// 含空格的字符串不是合法引用标记，按字面量处理。
	if params["d"].IsVariable() {
		t.Fatalf("d should be a literal")
	}

	encoded, err := json.Marshal(params["b"])
	if err != nil {
		t.Fatalf("marshal variable: %v", err)
	}
	if string(encoded) != `"${sum}"` {
		t.Fatalf("unexpected variable encoding: %s", encoded)
	}
}

func TestStepSetAcceptsScalarAndArray(t *testing.T) {
	var scalar StepSet
	if err := json.Unmarshal([]byte(`2`), &scalar); err != nil {
		t.Fatalf("unmarshal scalar: %v", err)
	}
	if !reflect.DeepEqual(scalar, StepSet{2}) {
		t.Fatalf("unexpected scalar set: %v", scalar)
	}

	var many StepSet
	if err := json.Unmarshal([]byte(`[1, 3]`), &many); err != nil {
		t.Fatalf("unmarshal array: %v", err)
	}
	if !reflect.DeepEqual(many, StepSet{1, 3}) {
		t.Fatalf("unexpected array set: %v", many)
	}

	var bad StepSet
	if err := json.Unmarshal([]byte(`"x"`), &bad); err == nil {
		t.Fatalf("expected error for invalid depends_on")
	}
}

func TestStepSetDecodesNullAsNoDependency(t *testing.T) {
	var set StepSet
	if err := json.Unmarshal([]byte(`null`), &set); err != nil {
		t.Fatalf("unmarshal null: %v", err)
	}
	if set != nil {
		t.Fatalf("null must mean no dependency, got %v", set)
	}

	// 显式 null 的 depends_on 不得让计划被校验拒绝。
	raw := `{
        "strategy": "SINGLE",
        "calls": [
            {"step": 1, "tool_name": "add", "depends_on": null}
        ]
    }`
	var p ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if p.Calls[0].DependsOn != nil {
		t.Fatalf("unexpected depends_on: %v", p.Calls[0].DependsOn)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("plan with null depends_on should validate: %v", err)
	}
}

func TestVariableReferencesSortedAndDeduplicated(t *testing.T) {
	call := &ToolCall{
		Step:     1,
		ToolName: "merge",
		Parameters: map[string]ParamValue{
			"x": Variable("beta"),
			"y": Variable("alpha"),
			"z": Variable("beta"),
			"w": Literal(42),
		},
	}

	refs := call.VariableReferences()
	if !reflect.DeepEqual(refs, []string{"alpha", "beta"}) {
		t.Fatalf("unexpected references: %v", refs)
	}

	empty := &ToolCall{Step: 2, ToolName: "noop"}
	if refs := empty.VariableReferences(); refs != nil {
		t.Fatalf("expected nil references, got %v", refs)
	}
}

func TestExecutionPlanJSONDecoding(t *testing.T) {
	raw := `{
        "strategy": "SEQUENTIAL",
        "calls": [
            {"step": 1, "tool_name": "add", "parameters": {"a": 1, "b": 2}, "result_variable": "sum"},
            {"step": 2, "tool_name": "multiply", "parameters": {"a": "${sum}", "b": 10}, "depends_on": 1}
        ]
    }`

	var p ExecutionPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal plan: %v", err)
	}
	if p.Strategy != StrategySequential {
		t.Fatalf("unexpected strategy: %s", p.Strategy)
	}
	if len(p.Calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(p.Calls))
	}
	second, ok := p.Call(2)
	if !ok {
		t.Fatalf("step 2 missing")
	}
	if !reflect.DeepEqual(second.DependsOn, StepSet{1}) {
		t.Fatalf("unexpected depends_on: %v", second.DependsOn)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("decoded plan should validate: %v", err)
	}
}
