package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ovalpay/settlements/internal/domain"
	"github.com/ovalpay/settlements/internal/ledger"
	"github.com/ovalpay/settlements/internal/models"
	"github.com/ovalpay/settlements/internal/observability"
	"go.uber.org/zap"
)

// TransitionService is the transaction status state machine. It computes a
// declarative settlement plan from the records captured at load time, hands
// the plan to the store for all-or-nothing application, and dispatches the
// merchant callback only after the commit.
type TransitionService struct {
	reader    Reader
	committer Committer
	notifier  Notifier
}

func NewTransitionService(reader Reader, committer Committer, notifier Notifier) *TransitionService {
	return &TransitionService{
		reader:    reader,
		committer: committer,
		notifier:  notifier,
	}
}

// ChangeStatus moves a transaction to newStatus and settles balances where
// the transition calls for it.
//
// The plan's compare-and-set expects the status read here, so concurrent
// callers racing to the same target serialize at the storage layer: exactly
// one commits the financial effects, the rest get ErrPreconditionFailed.
// Requesting the status the transaction already has is a no-op status write
// with no deltas.
func (s *TransitionService) ChangeStatus(ctx context.Context, transactionID, newStatus string, actorID *string) (*models.Transaction, *NotifyResult, error) {
	if !domain.ValidStatus(newStatus) {
		return nil, nil, fmt.Errorf("unknown status: %q", newStatus)
	}

	trx, err := s.reader.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, nil, err
	}
	previous := trx.Status

	plan, err := s.buildPlan(ctx, trx, newStatus)
	if err != nil {
		return nil, nil, err
	}

	audit := &models.AuditRecord{
		EntityType: "transaction",
		EntityID:   trx.ID,
		ActorID:    actorID,
		Action:     "status_changed",
		PrevState:  previous,
		NextState:  newStatus,
		Metadata:   transitionMetadata(plan),
	}

	if err := s.committer.CommitTransition(ctx, plan, audit); err != nil {
		if errors.Is(err, models.ErrInvariantViolation) {
			observability.IncrementInvariantViolation("settlement")
			zap.L().Error("settlement aborted on balance invariant",
				zap.String("transaction_id", trx.ID),
				zap.String("from", previous),
				zap.String("to", newStatus),
				zap.Error(err),
			)
		}
		return nil, nil, err
	}

	observability.IncrementStatusTransition(trx.Direction, newStatus)
	for _, delta := range plan.Deltas {
		observability.IncrementSettlementDelta(delta.Account, delta.Field)
	}

	trx.Status = newStatus

	result := s.notifier.NotifyStatus(ctx, trx, s.merchantToken(ctx, trx.MerchantID))
	if result != nil && result.Error != "" {
		zap.L().Warn("status callback failed",
			zap.String("transaction_id", trx.ID),
			zap.String("status", newStatus),
			zap.String("error", result.Error),
		)
	}
	return trx, result, nil
}

// buildPlan turns one requested transition into its ledger deltas. All
// arithmetic uses the values captured on the loaded transaction; nothing is
// re-read between here and the commit.
func (s *TransitionService) buildPlan(ctx context.Context, trx *models.Transaction, newStatus string) (*ledger.Plan, error) {
	plan := &ledger.Plan{
		TransactionID:  trx.ID,
		ExpectedStatus: trx.Status,
		NewStatus:      newStatus,
	}

	switch {
	case trx.Status != domain.StatusCanceled && newStatus == domain.StatusCanceled && trx.Direction == domain.DirectionIn:
		s.planCancelUnfreeze(trx, plan)

	case trx.Status != domain.StatusReady && newStatus == domain.StatusReady && trx.Direction == domain.DirectionIn:
		if err := s.planPayinSettlement(ctx, trx, plan); err != nil {
			return nil, err
		}

	case trx.Status != domain.StatusReady && newStatus == domain.StatusReady && trx.Direction == domain.DirectionOut:
		if err := s.planPayoutSettlement(ctx, trx, plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// planCancelUnfreeze releases the freeze on a canceled inbound deal. The
// released amount only leaves the frozen pool; it is not credited back to
// the spendable balance. That mirrors the platform's historical behavior
// and is pending product sign-off before it changes.
func (s *TransitionService) planCancelUnfreeze(trx *models.Transaction, plan *ledger.Plan) {
	if !trx.TraderBound() || !trx.FreezeApplied() {
		return
	}
	total := trx.FrozenUsdtAmount.Add(*trx.CalculatedCommission)
	plan.Debit(ledger.AccountTrader, *trx.TraderID, ledger.FieldFrozen, total)
}

// planPayinSettlement settles an inbound deal reaching READY: the merchant
// is credited at the fee-adjusted rate, the trader's freeze is released,
// the actually-spent amount is charged, and positive profit is credited.
func (s *TransitionService) planPayinSettlement(ctx context.Context, trx *models.Transaction, plan *ledger.Plan) error {
	method, err := s.reader.GetMethod(ctx, trx.MethodID)
	switch {
	case errors.Is(err, models.ErrMethodNotFound):
		zap.L().Warn("payin settlement without method; merchant credit skipped",
			zap.String("transaction_id", trx.ID),
			zap.String("method_id", trx.MethodID),
		)
		method = nil
	case err != nil:
		return err
	}

	if method != nil && trx.Rate != nil {
		credit, err := domain.PayinSettlement(trx.Amount, *trx.Rate, method.CommissionPayin)
		if err == nil {
			plan.Credit(ledger.AccountMerchant, trx.MerchantID, ledger.FieldBalance, credit)
		}
	}

	if !trx.TraderBound() || !trx.FreezeApplied() {
		return nil
	}

	totalFrozen := trx.FrozenUsdtAmount.Add(*trx.CalculatedCommission)
	plan.Debit(ledger.AccountTrader, *trx.TraderID, ledger.FieldFrozen, totalFrozen)

	if trx.Rate == nil {
		// The spent/profit math needs the fixed rate. Releasing the freeze is
		// still correct; the charge cannot be computed.
		zap.L().Warn("payin settlement with frozen funds but no rate; trader charge skipped",
			zap.String("transaction_id", trx.ID),
		)
		return nil
	}

	actualSpent, err := domain.TraderActualSpent(trx.Amount, *trx.Rate)
	if err != nil {
		return nil
	}
	plan.Debit(ledger.AccountTrader, *trx.TraderID, ledger.FieldBalance, actualSpent)

	profit := domain.TraderProfit(*trx.FrozenUsdtAmount, *trx.CalculatedCommission, actualSpent)
	if profit.IsPositive() {
		plan.Credit(ledger.AccountTrader, *trx.TraderID, ledger.FieldProfit, profit)
	}
	return nil
}

// planPayoutSettlement charges the trader for an outbound deal reaching
// READY. A trader record that vanished between assignment and settlement is
// tolerated (no deltas), but loudly: that state needs operator attention.
func (s *TransitionService) planPayoutSettlement(ctx context.Context, trx *models.Transaction, plan *ledger.Plan) error {
	if !trx.TraderBound() {
		return nil
	}

	trader, err := s.reader.GetTrader(ctx, *trx.TraderID)
	switch {
	case errors.Is(err, models.ErrTraderNotFound):
		observability.IncrementMissingTrader()
		zap.L().Warn("payout settlement skipped: trader record missing",
			zap.String("transaction_id", trx.ID),
			zap.String("trader_id", *trx.TraderID),
		)
		return nil
	case err != nil:
		return err
	}

	deduction := domain.PayoutDeduction(
		trx.Amount,
		trader.ProfitPercent,
		trader.StakePercent,
		trx.Rate,
		domain.IsSettlementCurrency(trx.Currency),
	)
	plan.Debit(ledger.AccountTrader, trader.ID, ledger.FieldBalance, deduction)
	return nil
}

func (s *TransitionService) merchantToken(ctx context.Context, merchantID string) string {
	merchant, err := s.reader.GetMerchant(ctx, merchantID)
	if err != nil {
		zap.L().Warn("merchant lookup for callback token failed",
			zap.String("merchant_id", merchantID),
			zap.Error(err),
		)
		return ""
	}
	return merchant.Token
}

func transitionMetadata(plan *ledger.Plan) []byte {
	deltas := make([]string, 0, len(plan.Deltas))
	for _, d := range plan.Deltas {
		deltas = append(deltas, d.String())
	}
	meta, err := json.Marshal(map[string]any{"deltas": deltas})
	if err != nil {
		return nil
	}
	return meta
}
