package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	xerrors "ToolFlow/internal/errors"
)

// Strategy 表示一个执行计划声明的并发形态。
type Strategy string

const (
	StrategySingle     Strategy = "SINGLE"
	StrategyParallel   Strategy = "PARALLEL"
	StrategySequential Strategy = "SEQUENTIAL"
	StrategyHybrid     Strategy = "HYBRID"
)

// IsValidStrategy 检查策略是否为支持的枚举值。
func IsValidStrategy(s Strategy) bool {
	switch s {
	case StrategySingle, StrategyParallel, StrategySequential, StrategyHybrid:
		return true
	default:
		return false
	}
}

// CodePlanInvalid 表示计划在执行前未通过校验。
const CodePlanInvalid xerrors.Code = "PLAN_INVALID"

// ErrPlanInvalid 是计划校验失败的哨兵错误，可通过 errors.Is 匹配。
var ErrPlanInvalid = xerrors.New(CodePlanInvalid, "execution plan invalid")

func init() {
	xerrors.Register(CodePlanInvalid, xerrors.Attributes{
		Message:   "execution plan invalid",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// varRefPattern 匹配形如 ${name} 的变量引用标记。
var varRefPattern = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

// varNamePattern 约束结果变量名的合法形态，与 ${name} 标记能识别的
// 名字保持一致，避免声明出永远无法被引用的变量。
var varNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParamValue 是参数值的带标签变体：要么是字面量，要么是对其他调用
// 结果变量的引用。解析只在反序列化时发生一次，执行期不再做字符串判断。
type ParamValue struct {
	literal  any
	variable string
}

// Literal 构造一个字面量参数值。
func Literal(v any) ParamValue {
	return ParamValue{literal: v}
}

// Variable 构造一个引用 name 的参数值。
func Variable(name string) ParamValue {
	return ParamValue{variable: name}
}

// IsVariable 判断该参数值是否为变量引用。
func (p ParamValue) IsVariable() bool {
	return p.variable != ""
}

// VariableName 返回引用的变量名，字面量返回空字符串。
func (p ParamValue) VariableName() string {
	return p.variable
}

// Value 返回字面量的内容。变量引用没有字面量内容。
func (p ParamValue) Value() any {
	return p.literal
}

// MarshalJSON 将变量引用编码为 ${name} 标记，字面量原样输出。
func (p ParamValue) MarshalJSON() ([]byte, error) {
	if p.IsVariable() {
		return json.Marshal("${" + p.variable + "}")
	}
	return json.Marshal(p.literal)
}

// UnmarshalJSON 在解码时识别 ${name} 标记，其余内容视为字面量。
func (p *ParamValue) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if s, ok := raw.(string); ok {
		if match := varRefPattern.FindStringSubmatch(s); match != nil {
			*p = ParamValue{variable: match[1]}
			return nil
		}
	}
	*p = ParamValue{literal: raw}
	return nil
}

// StepSet 表示依赖的前置步骤集合。JSON 中既接受单个数字也接受数组。
type StepSet []int

// UnmarshalJSON 兼容 null、标量与数组三种写法。
func (s *StepSet) UnmarshalJSON(data []byte) error {
	// json.Unmarshal 对 null 不写入目标值，必须先行识别。
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var single int
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StepSet{single}
		return nil
	}
	var many []int
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("依赖字段必须是步骤编号或编号数组: %w", err)
	}
	*s = StepSet(many)
	return nil
}

// ToolCall 描述一次计划中的工具调用。
type ToolCall struct {
	Step           int                   `json:"step"`
	ToolName       string                `json:"tool_name"`
	Parameters     map[string]ParamValue `json:"parameters,omitempty"`
	DependsOn      StepSet               `json:"depends_on,omitempty"`
	Purpose        string                `json:"purpose,omitempty"`
	ResultVariable string                `json:"result_variable,omitempty"`
}

// VariableReferences 返回该调用参数中引用的变量名，按名称排序去重。
func (c *ToolCall) VariableReferences() []string {
	if len(c.Parameters) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(c.Parameters))
	for _, value := range c.Parameters {
		if value.IsVariable() {
			seen[value.VariableName()] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutionPlan 是一次用户请求需要执行的全部工具调用。
// 计划由外部规划方构造，交给引擎后视为不可变。
type ExecutionPlan struct {
	Strategy Strategy    `json:"strategy"`
	Calls    []*ToolCall `json:"calls"`
}

// Call 返回指定步骤编号对应的调用。
func (p *ExecutionPlan) Call(step int) (*ToolCall, bool) {
	for _, call := range p.Calls {
		if call != nil && call.Step == step {
			return call, true
		}
	}
	return nil, false
}

// StepOutcome 记录单个调用的执行结果。
type StepOutcome struct {
	Step         int          `json:"step"`
	ToolName     string       `json:"tool_name"`
	Success      bool         `json:"success"`
	Value        any          `json:"value,omitempty"`
	ErrorCode    xerrors.Code `json:"error_code,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
	DurationMs   int64        `json:"duration_ms"`
}

// ExecutionResult 汇总整个计划的执行结果。
// Outcomes 始终按步骤编号升序排列，与实际完成顺序无关。
type ExecutionResult struct {
	Strategy       Strategy      `json:"strategy"`
	Outcomes       []StepOutcome `json:"outcomes"`
	OverallSuccess bool          `json:"overall_success"`
	FinalValue     any           `json:"final_value,omitempty"`
}

// Outcome 返回指定步骤的结果。
func (r *ExecutionResult) Outcome(step int) (StepOutcome, bool) {
	if r == nil {
		return StepOutcome{}, false
	}
	for _, outcome := range r.Outcomes {
		if outcome.Step == step {
			return outcome, true
		}
	}
	return StepOutcome{}, false
}
