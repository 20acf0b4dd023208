// Package policy 用 CEL 表达式实现访问策略，规则可以通过配置修改而不需要重新发布。
package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"nexus-reservation/internal/pkg/logger"
	"nexus-reservation/internal/service/reservation/domain"
)

// DefaultElevatedExpr 只允许 admin 角色管理目录、查看他人的预订。
const DefaultElevatedExpr = `role == "admin"`

// CELAccessPolicy 是 port.AccessPolicy 的 CEL 实现。
// 表达式可以引用 role 和 user_id 两个字符串变量，结果必须是 bool。
type CELAccessPolicy struct {
	expr    string
	program cel.Program
}

// NewCELAccessPolicy 编译表达式。expr 为空时使用 DefaultElevatedExpr。
func NewCELAccessPolicy(expr string) (*CELAccessPolicy, error) {
	if expr == "" {
		expr = DefaultElevatedExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("role", cel.StringType),
		cel.Variable("user_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss.Err() != nil {
		return nil, fmt.Errorf("compile access policy %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("access policy %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build access policy program: %w", err)
	}
	return &CELAccessPolicy{expr: expr, program: prg}, nil
}

// IsElevated 对调用方求值。求值出错时按无权限处理。
func (p *CELAccessPolicy) IsElevated(caller domain.Caller) bool {
	out, _, err := p.program.Eval(map[string]interface{}{
		"role":    caller.Role,
		"user_id": caller.UserID,
	})
	if err != nil {
		logger.L().Warn().Err(err).Str("expr", p.expr).Msg("access policy evaluation failed")
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}
