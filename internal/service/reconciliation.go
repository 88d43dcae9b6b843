package service

import (
	"context"
	"fmt"

	"github.com/ovalpay/settlements/internal/observability"
	"github.com/ovalpay/settlements/internal/repository"
	"go.uber.org/zap"
)

// LedgerAuditor exposes the invariant scans the reconciliation sweep runs.
type LedgerAuditor interface {
	GetNegativeBalanceTraders(ctx context.Context) ([]string, error)
	GetFreezeMismatches(ctx context.Context) ([]repository.TraderFreezeMismatch, error)
}

// ReconciliationService verifies trader ledger invariants: no negative
// balances, and every trader's frozen pool covering their open deals.
type ReconciliationService struct {
	auditor LedgerAuditor
}

func NewReconciliationService(auditor LedgerAuditor) *ReconciliationService {
	return &ReconciliationService{auditor: auditor}
}

// Run executes one sweep. Findings are logged at error level and counted;
// they indicate a guard was bypassed (manual intervention, data import) and
// need operator attention rather than automated correction.
func (s *ReconciliationService) Run(ctx context.Context) error {
	negative, err := s.auditor.GetNegativeBalanceTraders(ctx)
	if err != nil {
		return fmt.Errorf("scan negative balances: %w", err)
	}
	for _, traderID := range negative {
		observability.IncrementInvariantViolation("reconciliation_negative_balance")
		zap.L().Error("CRITICAL: trader balance below zero", zap.String("trader_id", traderID))
	}

	mismatches, err := s.auditor.GetFreezeMismatches(ctx)
	if err != nil {
		return fmt.Errorf("scan freeze mismatches: %w", err)
	}
	for _, m := range mismatches {
		observability.IncrementInvariantViolation("reconciliation_freeze_mismatch")
		zap.L().Error("trader frozen pool does not cover open deals",
			zap.String("trader_id", m.TraderID),
			zap.String("frozen_usdt", m.FrozenUsdt),
			zap.String("open_frozen", m.OpenFrozen),
		)
	}

	if len(negative) == 0 && len(mismatches) == 0 {
		zap.L().Info("ledger invariants hold")
	}
	return nil
}
