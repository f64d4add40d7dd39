package engine

import (
	"fmt"

	xerrors "ToolFlow/internal/errors"
	"ToolFlow/internal/plan"
)

// resolveParameters 把调用声明的参数解析为纯字面量映射：变量引用在变量
// 存储中查找，字面量原样传递。解析是纯函数，不会修改变量存储。
func resolveParameters(call *plan.ToolCall, vars *VariableStore) (map[string]any, error) {
	if len(call.Parameters) == 0 {
		return map[string]any{}, nil
	}
	resolved := make(map[string]any, len(call.Parameters))
	for name, value := range call.Parameters {
		if !value.IsVariable() {
			resolved[name] = value.Value()
			continue
		}
		published, ok := vars.Lookup(value.VariableName())
		if !ok {
			return nil, xerrors.New(CodeVariableUnresolved,
				fmt.Sprintf("步骤 %d 的参数 %s 引用的变量 %s 尚未发布", call.Step, name, value.VariableName()))
		}
		resolved[name] = published
	}
	return resolved, nil
}
