// internal/settlement/infrastructure/rule/cel_commission_test.go
package rule

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultRateApplies(t *testing.T) {
	policy, err := NewCELCommissionPolicy("0.08", nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := policy.Commission(context.Background(), "anyone", decimal.NewFromInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("commission = %s, want 8", got)
	}
}

func TestVendorRuleOverridesDefault(t *testing.T) {
	policy, err := NewCELCommissionPolicy("0.08", map[string]string{
		"flagship": "subtotal > 1000.0 ? subtotal * 0.03 : subtotal * 0.05",
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := policy.Commission(ctx, "flagship", decimal.NewFromInt(200))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("small order commission = %s, want 10", got)
	}

	got, err = policy.Commission(ctx, "flagship", decimal.NewFromInt(2000))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("large order commission = %s, want 60", got)
	}

	// 没配规则的 vendor 走默认比例
	got, err = policy.Commission(ctx, "other", decimal.NewFromInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("fallback commission = %s, want 8", got)
	}
}

func TestCommissionClampedToSubtotal(t *testing.T) {
	policy, err := NewCELCommissionPolicy("0.08", map[string]string{
		"greedy":   "subtotal * 2.0",
		"generous": "subtotal * -1.0",
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, _ := policy.Commission(ctx, "greedy", decimal.NewFromInt(100))
	if !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("commission = %s, want clamp to 100", got)
	}
	got, _ = policy.Commission(ctx, "generous", decimal.NewFromInt(100))
	if !got.IsZero() {
		t.Fatalf("commission = %s, want clamp to 0", got)
	}
}

func TestInvalidConfigurationRejected(t *testing.T) {
	if _, err := NewCELCommissionPolicy("not-a-number", nil); err == nil {
		t.Fatal("expected invalid default rate to be rejected")
	}
	if _, err := NewCELCommissionPolicy("1.5", nil); err == nil {
		t.Fatal("expected out-of-range default rate to be rejected")
	}
	if _, err := NewCELCommissionPolicy("0.08", map[string]string{"v": "subtotal +"}); err == nil {
		t.Fatal("expected malformed CEL expression to be rejected")
	}
}
