// Package ledger defines the declarative unit of settlement: a status
// compare-and-set plus a list of balance deltas that must commit together
// or not at all. Services build plans; the repository applies them.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Account kinds a delta can target.
const (
	AccountTrader   = "trader"
	AccountMerchant = "merchant"
)

// Balance fields a delta can adjust. Balance and Frozen are guarded: an
// adjustment that would take them negative aborts the whole plan.
const (
	FieldBalance = "balance_usdt"
	FieldFrozen  = "frozen_usdt"
	FieldProfit  = "profit_from_deals"
)

// Delta is one atomic balance adjustment. Amount may be negative.
type Delta struct {
	Account   string
	AccountID string
	Field     string
	Amount    decimal.Decimal
}

func (d Delta) String() string {
	return fmt.Sprintf("%s(%s).%s %s", d.Account, d.AccountID, d.Field, d.Amount)
}

// Plan is a full transition: move the transaction from ExpectedStatus to
// NewStatus and apply every delta, all inside one storage transaction. The
// status CAS is the concurrency guard — if another caller already moved the
// transaction off ExpectedStatus, nothing in the plan is applied.
type Plan struct {
	TransactionID  string
	ExpectedStatus string
	NewStatus      string
	Deltas         []Delta
}

// Credit appends a positive adjustment to the plan.
func (p *Plan) Credit(account, accountID, field string, amount decimal.Decimal) {
	p.Deltas = append(p.Deltas, Delta{Account: account, AccountID: accountID, Field: field, Amount: amount})
}

// Debit appends a negative adjustment to the plan.
func (p *Plan) Debit(account, accountID, field string, amount decimal.Decimal) {
	p.Deltas = append(p.Deltas, Delta{Account: account, AccountID: accountID, Field: field, Amount: amount.Neg()})
}

// HasSettlement reports whether the plan carries any financial effect.
func (p *Plan) HasSettlement() bool {
	return len(p.Deltas) > 0
}
