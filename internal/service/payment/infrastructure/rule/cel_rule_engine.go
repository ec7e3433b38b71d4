// internal/service/payment/infrastructure/rule/cel_rule_engine.go
package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"nexus-payment/internal/service/payment/domain"
)

// CELRuleEngine 是 port.AcceptanceRule 接口的 CEL 实现。
// 表达式在启动时编译一次，可用变量：user_id、amount(double)、payment_method、order_id。
//
//	amount <= 10000.0 && payment_method in ["credit_card", "paypal"]
type CELRuleEngine struct {
	expr    string
	program cel.Program
}

// NewCELRuleEngine 编译规则，表达式结果必须是 bool。
func NewCELRuleEngine(expr string) (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("user_id", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("payment_method", cel.StringType),
		cel.Variable("order_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile rule %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("build program for rule %q: %w", expr, err)
	}
	return &CELRuleEngine{expr: expr, program: program}, nil
}

// Accept 实现了 port.AcceptanceRule 接口。
func (e *CELRuleEngine) Accept(ctx context.Context, req *domain.PaymentRequest) (bool, error) {
	out, _, err := e.program.ContextEval(ctx, map[string]interface{}{
		"user_id":        req.UserID,
		"amount":         req.TotalAmount.InexactFloat64(),
		"payment_method": req.PaymentMethod,
		"order_id":       req.OrderID,
	})
	if err != nil {
		return false, fmt.Errorf("evaluate rule %q: %w", e.expr, err)
	}
	accepted, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("rule %q returned %T, want bool", e.expr, out.Value())
	}
	return accepted, nil
}

func (e *CELRuleEngine) String() string {
	return e.expr
}
