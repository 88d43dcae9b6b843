package domain

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRateRequired is returned when a calculation needs a fixed, non-zero
// exchange rate and none is available. Callers treat it as "no settlement
// possible" and skip the corresponding ledger delta.
var ErrRateRequired = errors.New("exchange rate is required and must be non-zero")

var oneHundred = decimal.NewFromInt(100)

// percentFactor returns (1 + pct/100) when add is true, (1 - pct/100) otherwise.
func percentFactor(pct decimal.Decimal, add bool) decimal.Decimal {
	frac := pct.Div(oneHundred)
	if add {
		return decimal.NewFromInt(1).Add(frac)
	}
	return decimal.NewFromInt(1).Sub(frac)
}

// PayinSettlement computes the merchant credit for an inbound deal reaching
// READY: amount / (rate * (1 + commissionPayin/100)).
func PayinSettlement(amount, rate, commissionPayin decimal.Decimal) (decimal.Decimal, error) {
	if rate.IsZero() {
		return decimal.Zero, ErrRateRequired
	}
	rateWithFee := rate.Mul(percentFactor(commissionPayin, true))
	if rateWithFee.IsZero() {
		return decimal.Zero, ErrRateRequired
	}
	return amount.Div(rateWithFee), nil
}

// TraderActualSpent converts the deal amount to the settlement currency at
// the merchant rate: amount / rate.
func TraderActualSpent(amount, rate decimal.Decimal) (decimal.Decimal, error) {
	if rate.IsZero() {
		return decimal.Zero, ErrRateRequired
	}
	return amount.Div(rate), nil
}

// TraderProfit is what the trader keeps after settlement:
// (frozenAmount - actualSpent) + calculatedCommission. Only strictly
// positive results are ever credited; losses are not clawed back here.
func TraderProfit(frozenAmount, calculatedCommission, actualSpent decimal.Decimal) decimal.Decimal {
	return frozenAmount.Sub(actualSpent).Add(calculatedCommission)
}

// PayoutDeduction computes the amount removed from a trader's spendable
// balance when an outbound deal reaches READY. The commission is taken off
// the face amount first; the remainder is converted at the stake-adjusted
// rate unless the deal is already denominated in the settlement currency
// (or no rate was fixed, which is treated the same way).
func PayoutDeduction(amount, commissionPercent, stakePercent decimal.Decimal, rate *decimal.Decimal, isSettlementCurrency bool) decimal.Decimal {
	after := amount.Mul(percentFactor(commissionPercent, false))
	if isSettlementCurrency || rate == nil {
		return after
	}
	rateAdj := rate.Mul(percentFactor(stakePercent, false))
	if rateAdj.IsZero() {
		return after
	}
	return after.Div(rateAdj)
}

// AssignmentRequirement is the spendable balance a trader must hold before
// being bound to a deal with a fixed rate: the base amount at the
// profit-adjusted trader rate, grossed back up by the profit percent.
func AssignmentRequirement(amount, rate, profitPercent decimal.Decimal) (decimal.Decimal, error) {
	traderRate := rate.Mul(percentFactor(profitPercent, false))
	if traderRate.IsZero() {
		return decimal.Zero, ErrRateRequired
	}
	base := amount.Div(traderRate)
	return base.Mul(percentFactor(profitPercent, true)), nil
}

// IsSettlementCurrency reports whether the given transaction currency is
// already the settlement currency.
func IsSettlementCurrency(currency string) bool {
	return strings.EqualFold(strings.TrimSpace(currency), SettlementCurrency)
}
