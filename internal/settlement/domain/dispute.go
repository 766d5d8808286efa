// internal/settlement/domain/dispute.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type DisputeState string

const (
	DisputeOpen     DisputeState = "OPEN"
	DisputeResolved DisputeState = "RESOLVED"
)

// DisputeOutcomeKind 是争议裁决的三种走向。
// 所有裁决都经由托管账户的部分放款/退款执行，绝不绕开托管。
type DisputeOutcomeKind string

const (
	OutcomeUphold        DisputeOutcomeKind = "UPHOLD"         // 维持原判：照常放款给卖家
	OutcomePartialRefund DisputeOutcomeKind = "PARTIAL_REFUND" // 部分退款给买家，其余放款
	OutcomeFullRefund    DisputeOutcomeKind = "FULL_REFUND"    // 全额退款给买家
)

// DisputeOutcome 携带裁决及部分退款的金额。
type DisputeOutcome struct {
	Kind   DisputeOutcomeKind
	Amount decimal.Decimal // 仅 PARTIAL_REFUND 使用
}

// Dispute 是买卖双方针对已发货或已签收订单行的争议。
// 开启后冻结对应 hold 的自动放款，直到裁决。
type Dispute struct {
	ID         string
	OrderID    string
	LineIndex  int
	HoldID     string
	Reason     string
	State      DisputeState
	Outcome    *DisputeOutcome
	OpenedAt   time.Time
	ResolvedAt *time.Time
}
