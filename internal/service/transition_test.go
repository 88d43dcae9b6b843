package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ovalpay/settlements/internal/domain"
	"github.com/ovalpay/settlements/internal/ledger"
	"github.com/ovalpay/settlements/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// seedPayin sets up a bound inbound deal ready to settle: trader froze 45
// plus a 5 commission, merchant pays through a method with a 2% payin fee.
func seedPayin(store *memStore) {
	store.traders["trd-1"] = &models.Trader{
		ID:          "trd-1",
		BalanceUsdt: dec("200"),
		FrozenUsdt:  dec("50"),
	}
	store.merchants["mch-1"] = &models.Merchant{ID: "mch-1", Token: "tok-1"}
	store.methods["mtd-1"] = &models.Method{ID: "mtd-1", CommissionPayin: dec("2")}
	store.transactions["trx-1"] = &models.Transaction{
		ID:                   "trx-1",
		MerchantID:           "mch-1",
		MethodID:             "mtd-1",
		TraderID:             strPtr("trd-1"),
		Direction:            domain.DirectionIn,
		Status:               domain.StatusInProgress,
		Amount:               dec("4000"),
		Currency:             "rub",
		Rate:                 decPtr("100"),
		FrozenUsdtAmount:     decPtr("45"),
		CalculatedCommission: decPtr("5"),
		CallbackURI:          "https://merchant.example/cb",
	}
}

func newTransitionFixture() (*TransitionService, *memStore, *stubNotifier) {
	store := newMemStore()
	notifier := &stubNotifier{}
	return NewTransitionService(store, store, notifier), store, notifier
}

func TestChangeStatusRejectsUnknownStatus(t *testing.T) {
	svc, _, _ := newTransitionFixture()

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", "PAID", nil)
	require.Error(t, err)
}

func TestChangeStatusTransactionNotFound(t *testing.T) {
	svc, _, _ := newTransitionFixture()

	_, _, err := svc.ChangeStatus(context.Background(), "missing", domain.StatusReady, nil)
	require.ErrorIs(t, err, models.ErrTransactionNotFound)
}

func TestPayinReadySettlesAllAccounts(t *testing.T) {
	svc, store, notifier := newTransitionFixture()
	seedPayin(store)

	trx, result, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, strPtr("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, trx.Status)
	assert.Equal(t, domain.StatusReady, store.transaction("trx-1").Status)

	// Merchant credit is amount over the fee-adjusted rate: 4000 / (100 * 1.02).
	wantCredit := dec("4000").Div(dec("100").Mul(dec("1.02")))
	assert.True(t, store.merchant("mch-1").BalanceUsdt.Equal(wantCredit),
		"merchant balance = %s, want %s", store.merchant("mch-1").BalanceUsdt, wantCredit)

	// Trader: freeze of 45+5 fully released, 40 actually spent, 10 profit.
	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero(), "frozen = %s", trader.FrozenUsdt)
	assert.True(t, trader.BalanceUsdt.Equal(dec("160")), "balance = %s", trader.BalanceUsdt)
	assert.True(t, trader.ProfitFromDeals.Equal(dec("10")), "profit = %s", trader.ProfitFromDeals)

	require.NotNil(t, result)
	assert.Equal(t, 1, notifier.callCount())

	require.Len(t, store.audits, 1)
	assert.Equal(t, "status_changed", store.audits[0].Action)
	assert.Equal(t, domain.StatusInProgress, store.audits[0].PrevState)
	assert.Equal(t, domain.StatusReady, store.audits[0].NextState)
}

func TestPayinReadyWithoutRateReleasesFreezeOnly(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)
	store.transactions["trx-1"].Rate = nil

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.NoError(t, err)

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero())
	assert.True(t, trader.BalanceUsdt.Equal(dec("200")), "spendable balance must not move without a rate")
	assert.True(t, trader.ProfitFromDeals.IsZero())
	assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero(), "merchant credit needs a rate")
}

func TestPayinReadyWithoutMethodSkipsMerchantCredit(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)
	delete(store.methods, "mtd-1")

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.NoError(t, err)

	assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero())
	// Trader settlement still runs in full.
	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero())
	assert.True(t, trader.BalanceUsdt.Equal(dec("160")))
}

func TestCancelReleasesFrozenPoolOnly(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusCanceled, nil)
	require.NoError(t, err)

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero(), "frozen = %s", trader.FrozenUsdt)
	assert.True(t, trader.BalanceUsdt.Equal(dec("200")), "cancel must not charge the balance")
	assert.True(t, trader.ProfitFromDeals.IsZero())
	assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero())
	assert.Equal(t, domain.StatusCanceled, store.transaction("trx-1").Status)
}

func TestCancelUnboundDealMovesNoMoney(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)
	store.transactions["trx-1"].TraderID = nil

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusCanceled, nil)
	require.NoError(t, err)

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.Equal(dec("50")))
	assert.True(t, trader.BalanceUsdt.Equal(dec("200")))
}

func TestRepeatSameStatusIsNoOp(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.NoError(t, err)
	balanceAfter := store.trader("trd-1").BalanceUsdt
	merchantAfter := store.merchant("mch-1").BalanceUsdt

	// Same target again: the deal is already READY, so no transition branch
	// matches and the plan carries zero deltas.
	trx, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, trx.Status)
	assert.True(t, store.trader("trd-1").BalanceUsdt.Equal(balanceAfter))
	assert.True(t, store.merchant("mch-1").BalanceUsdt.Equal(merchantAfter))
}

func TestConcurrentReadySettlesExactlyOnce(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)

	const racers = 8
	errs := make([]error, racers)
	var wg sync.WaitGroup
	wg.Add(racers)
	for i := 0; i < racers; i++ {
		i := i
		go func() {
			defer wg.Done()
			_, _, errs[i] = svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			assert.ErrorIs(t, err, models.ErrPreconditionFailed)
		}
	}
	assert.Equal(t, 1, winners, "exactly one racer commits the settlement")

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero())
	assert.True(t, trader.BalanceUsdt.Equal(dec("160")))
	assert.True(t, trader.ProfitFromDeals.Equal(dec("10")))
	wantCredit := dec("4000").Div(dec("100").Mul(dec("1.02")))
	assert.True(t, store.merchant("mch-1").BalanceUsdt.Equal(wantCredit))
}

func TestFailureMidPlanLeavesEverythingUntouched(t *testing.T) {
	svc, store, notifier := newTransitionFixture()
	seedPayin(store)

	// Fail on the trader balance charge, after the merchant credit and the
	// freeze release have already been planned.
	boom := errors.New("connection reset")
	store.failOn = func(d ledger.Delta) error {
		if d.Account == ledger.AccountTrader && d.Field == ledger.FieldBalance {
			return boom
		}
		return nil
	}

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.ErrorIs(t, err, boom)

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.Equal(dec("50")), "freeze must survive the rollback")
	assert.True(t, trader.BalanceUsdt.Equal(dec("200")))
	assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero(), "merchant credit must roll back")
	assert.Equal(t, domain.StatusInProgress, store.transaction("trx-1").Status)
	assert.Equal(t, 0, notifier.callCount(), "no callback on a failed commit")
	assert.Empty(t, store.audits)
}

func TestInsufficientBalanceAbortsWholePlan(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)
	store.traders["trd-1"].BalanceUsdt = dec("10") // cannot cover the 40 charge

	_, _, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.ErrorIs(t, err, models.ErrInvariantViolation)

	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.Equal(dec("50")))
	assert.True(t, trader.BalanceUsdt.Equal(dec("10")))
	assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero())
	assert.Equal(t, domain.StatusInProgress, store.transaction("trx-1").Status)
}

func TestPayoutReadyDeductsFxAdjustedAmount(t *testing.T) {
	svc, store, notifier := newTransitionFixture()
	store.traders["trd-2"] = &models.Trader{
		ID:            "trd-2",
		BalanceUsdt:   dec("500"),
		StakePercent:  dec("2"),
		ProfitPercent: dec("5"),
	}
	store.merchants["mch-1"] = &models.Merchant{ID: "mch-1", Token: "tok-1"}
	store.transactions["out-1"] = &models.Transaction{
		ID:         "out-1",
		MerchantID: "mch-1",
		TraderID:   strPtr("trd-2"),
		Direction:  domain.DirectionOut,
		Status:     domain.StatusInProgress,
		Amount:     dec("10000"),
		Currency:   "rub",
		Rate:       decPtr("100"),
		Commission: dec("5"),
	}

	_, _, err := svc.ChangeStatus(context.Background(), "out-1", domain.StatusReady, nil)
	require.NoError(t, err)

	// 10000 * (1 - 5/100) = 9500, divided by 100 * (1 - 2/100) = 98.
	want := dec("500").Sub(dec("9500").Div(dec("98")))
	trader := store.trader("trd-2")
	assert.True(t, trader.BalanceUsdt.Equal(want), "balance = %s, want %s", trader.BalanceUsdt, want)
	assert.Equal(t, 1, notifier.callCount())
}

func TestPayoutInSettlementCurrencySkipsRate(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	store.traders["trd-2"] = &models.Trader{
		ID:            "trd-2",
		BalanceUsdt:   dec("500"),
		ProfitPercent: dec("5"),
	}
	store.merchants["mch-1"] = &models.Merchant{ID: "mch-1"}
	store.transactions["out-1"] = &models.Transaction{
		ID:         "out-1",
		MerchantID: "mch-1",
		TraderID:   strPtr("trd-2"),
		Direction:  domain.DirectionOut,
		Status:     domain.StatusInProgress,
		Amount:     dec("100"),
		Currency:   domain.SettlementCurrency,
		Rate:       decPtr("100"),
		Commission: dec("5"),
	}

	_, _, err := svc.ChangeStatus(context.Background(), "out-1", domain.StatusReady, nil)
	require.NoError(t, err)

	// Already in the settlement currency: 100 * 0.95, no rate division.
	assert.True(t, store.trader("trd-2").BalanceUsdt.Equal(dec("405")))
}

func TestPayoutMissingTraderSettlesStatusOnly(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	store.merchants["mch-1"] = &models.Merchant{ID: "mch-1"}
	store.transactions["out-1"] = &models.Transaction{
		ID:         "out-1",
		MerchantID: "mch-1",
		TraderID:   strPtr("gone"),
		Direction:  domain.DirectionOut,
		Status:     domain.StatusInProgress,
		Amount:     dec("100"),
		Currency:   "rub",
		Rate:       decPtr("100"),
	}

	trx, _, err := svc.ChangeStatus(context.Background(), "out-1", domain.StatusReady, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusReady, trx.Status)
	assert.Equal(t, domain.StatusReady, store.transaction("out-1").Status)
}

func TestDisputeAndExpireCarryNoDeltas(t *testing.T) {
	for _, target := range []string{domain.StatusDispute, domain.StatusExpired} {
		t.Run(target, func(t *testing.T) {
			svc, store, notifier := newTransitionFixture()
			seedPayin(store)

			trx, _, err := svc.ChangeStatus(context.Background(), "trx-1", target, nil)
			require.NoError(t, err)
			assert.Equal(t, target, trx.Status)

			trader := store.trader("trd-1")
			assert.True(t, trader.FrozenUsdt.Equal(dec("50")))
			assert.True(t, trader.BalanceUsdt.Equal(dec("200")))
			assert.True(t, store.merchant("mch-1").BalanceUsdt.IsZero())
			assert.Equal(t, 1, notifier.callCount())
		})
	}
}

func TestCallbackFailureDoesNotFailTransition(t *testing.T) {
	svc, store, notifier := newTransitionFixture()
	seedPayin(store)
	notifier.result = &NotifyResult{URL: "https://merchant.example/cb", Error: "dial timeout"}

	trx, result, err := svc.ChangeStatus(context.Background(), "trx-1", domain.StatusReady, nil)
	require.NoError(t, err, "callback delivery is best-effort")
	assert.Equal(t, domain.StatusReady, trx.Status)
	require.NotNil(t, result)
	assert.Equal(t, "dial timeout", result.Error)
	// Settlement committed before the callback ran.
	assert.True(t, store.trader("trd-1").FrozenUsdt.IsZero())
}

func TestSequentialLifecycle(t *testing.T) {
	svc, store, _ := newTransitionFixture()
	seedPayin(store)
	store.transactions["trx-1"].Status = domain.StatusCreated

	ctx := context.Background()
	for _, step := range []string{domain.StatusInProgress, domain.StatusDispute, domain.StatusReady} {
		_, _, err := svc.ChangeStatus(ctx, "trx-1", step, nil)
		require.NoError(t, err, fmt.Sprintf("step to %s", step))
	}

	// Only the final READY step settles.
	trader := store.trader("trd-1")
	assert.True(t, trader.FrozenUsdt.IsZero())
	assert.True(t, trader.BalanceUsdt.Equal(dec("160")))
	assert.True(t, trader.ProfitFromDeals.Equal(dec("10")))
	require.Len(t, store.audits, 3)
}
