package service

import (
	"context"
	"encoding/json"

	"github.com/ovalpay/settlements/internal/domain"
	"github.com/ovalpay/settlements/internal/models"
	"go.uber.org/zap"
)

// TraderBinder persists the trader assignment on a transaction.
type TraderBinder interface {
	SetTransactionTrader(ctx context.Context, id string, traderID *string) (*models.Transaction, error)
}

// AuditWriter records standalone audit rows outside a settlement plan.
type AuditWriter interface {
	WriteAudit(ctx context.Context, rec *models.AuditRecord) error
}

// AssignmentService binds traders to deals. Binding against a fixed rate
// requires the trader's spendable balance to cover the grossed-up deal
// amount; the freeze itself is applied elsewhere, after assignment.
type AssignmentService struct {
	reader Reader
	binder TraderBinder
	audit  AuditWriter
}

func NewAssignmentService(reader Reader, binder TraderBinder, audit AuditWriter) *AssignmentService {
	return &AssignmentService{reader: reader, binder: binder, audit: audit}
}

// AssignTrader binds traderID to the transaction, or unbinds when traderID
// is nil. Returns ErrInsufficientBalance when the trader cannot cover the
// deal at its fixed rate.
func (s *AssignmentService) AssignTrader(ctx context.Context, transactionID string, traderID, actorID *string) (*models.Transaction, error) {
	trx, err := s.reader.GetTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	if traderID != nil {
		trader, err := s.reader.GetTrader(ctx, *traderID)
		if err != nil {
			return nil, err
		}

		if trx.Rate != nil {
			needed, err := domain.AssignmentRequirement(trx.Amount, *trx.Rate, trader.ProfitPercent)
			if err != nil {
				return nil, err
			}
			if trader.BalanceUsdt.LessThan(needed) {
				return nil, models.ErrInsufficientBalance
			}
		}
	}

	updated, err := s.binder.SetTransactionTrader(ctx, transactionID, traderID)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		meta, _ := json.Marshal(map[string]any{"trader_id": traderID})
		if err := s.audit.WriteAudit(ctx, &models.AuditRecord{
			EntityType: "transaction",
			EntityID:   transactionID,
			ActorID:    actorID,
			Action:     "trader_assigned",
			Metadata:   meta,
		}); err != nil {
			zap.L().Warn("trader assignment audit write failed",
				zap.String("transaction_id", transactionID),
				zap.Error(err),
			)
		}
	}
	return updated, nil
}
