package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is a merchant deal routed through a trader. The freeze fields
// (FrozenUsdtAmount, CalculatedCommission) are fixed when a trader is bound
// and are the basis for all later unfreeze/settlement arithmetic.
type Transaction struct {
	ID         string  `json:"id"`
	MerchantID string  `json:"merchant_id"`
	MethodID   string  `json:"method_id"`
	TraderID   *string `json:"trader_id,omitempty"`
	OrderID    string  `json:"order_id"`

	Direction string          `json:"direction"` // IN or OUT
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`

	Rate                 *decimal.Decimal `json:"rate,omitempty"`
	Commission           decimal.Decimal  `json:"commission"`
	CalculatedCommission *decimal.Decimal `json:"calculated_commission,omitempty"`
	FrozenUsdtAmount     *decimal.Decimal `json:"frozen_usdt_amount,omitempty"`

	CallbackURI string `json:"callback_uri"`
	SuccessURI  string `json:"success_uri"`
	FailURI     string `json:"fail_uri"`

	ExpiredAt time.Time `json:"expired_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TraderBound reports whether a trader owns this deal.
func (t *Transaction) TraderBound() bool {
	return t.TraderID != nil && *t.TraderID != ""
}

// FreezeApplied reports whether the freeze fields were set at assignment time.
func (t *Transaction) FreezeApplied() bool {
	return t.FrozenUsdtAmount != nil && t.CalculatedCommission != nil
}

// Trader holds the per-trader ledger balances and settlement parameters.
// BalanceUsdt and FrozenUsdt must never go negative after a committed
// mutation; ProfitFromDeals only grows through the settlement path.
type Trader struct {
	ID              string          `json:"id"`
	Email           string          `json:"email"`
	BalanceUsdt     decimal.Decimal `json:"balance_usdt"`
	FrozenUsdt      decimal.Decimal `json:"frozen_usdt"`
	ProfitFromDeals decimal.Decimal `json:"profit_from_deals"`
	StakePercent    decimal.Decimal `json:"stake_percent"`
	ProfitPercent   decimal.Decimal `json:"profit_percent"`
	Banned          bool            `json:"banned"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Merchant struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Token       string          `json:"token"`
	BalanceUsdt decimal.Decimal `json:"balance_usdt"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Method is a payment method; CommissionPayin is the percentage added on top
// of the trader rate when computing the merchant settlement rate.
type Method struct {
	ID              string          `json:"id"`
	Code            string          `json:"code"`
	Name            string          `json:"name"`
	Currency        string          `json:"currency"`
	CommissionPayin decimal.Decimal `json:"commission_payin"`
}

// Device is a trader-owned handset reporting health checks. The watchdog
// flips IsOnline off when LastSeenAt falls behind the configured timeout.
type Device struct {
	ID         string    `json:"id"`
	TraderID   string    `json:"trader_id"`
	Name       string    `json:"name"`
	IsOnline   bool      `json:"is_online"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	DeviceID  *string   `json:"device_id,omitempty"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
