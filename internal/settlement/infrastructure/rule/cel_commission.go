// internal/settlement/infrastructure/rule/cel_commission.go
package rule

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/shopspring/decimal"
)

// CELCommissionPolicy 实现了 port.CommissionPolicy 接口。
// 运营可以按 vendor 配置 CEL 表达式覆盖默认比例，例如:
//
//	"subtotal * 0.05"
//	"subtotal > 1000.0 ? subtotal * 0.03 : subtotal * 0.08"
//
// 没有配置规则的 vendor 走默认固定比例。
type CELCommissionPolicy struct {
	defaultRate decimal.Decimal
	programs    map[string]cel.Program
}

func NewCELCommissionPolicy(defaultRate string, rules map[string]string) (*CELCommissionPolicy, error) {
	rate, err := decimal.NewFromString(defaultRate)
	if err != nil {
		return nil, fmt.Errorf("invalid default commission rate %q: %w", defaultRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("default commission rate %s out of [0,1]", rate)
	}

	env, err := cel.NewEnv(
		cel.Variable("subtotal", cel.DoubleType),
		cel.Variable("vendor_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs := make(map[string]cel.Program, len(rules))
	for vendorID, expr := range rules {
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("invalid commission rule for vendor %s: %w", vendorID, issues.Err())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to build commission program for vendor %s: %w", vendorID, err)
		}
		programs[vendorID] = prg
	}

	return &CELCommissionPolicy{defaultRate: rate, programs: programs}, nil
}

// Commission 计算一笔结算小计应抽取的平台佣金。
func (p *CELCommissionPolicy) Commission(ctx context.Context, vendorID string, subtotal decimal.Decimal) (decimal.Decimal, error) {
	prg, ok := p.programs[vendorID]
	if !ok {
		return subtotal.Mul(p.defaultRate).Round(2), nil
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"subtotal":  subtotal.InexactFloat64(),
		"vendor_id": vendorID,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("commission rule eval failed for vendor %s: %w", vendorID, err)
	}

	value, ok := out.Value().(float64)
	if !ok {
		return decimal.Zero, fmt.Errorf("commission rule for vendor %s returned %T, want double", vendorID, out.Value())
	}

	commission := decimal.NewFromFloat(value).Round(2)
	if commission.IsNegative() {
		commission = decimal.Zero
	}
	if commission.GreaterThan(subtotal) {
		commission = subtotal
	}
	return commission, nil
}
