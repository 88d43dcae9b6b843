package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ovalpay/settlements/internal/ledger"
	"github.com/ovalpay/settlements/internal/models"
)

// Store applies settlement plans against the database. Every plan is one
// pgx transaction: the status compare-and-set, each balance delta, and the
// audit row commit together or not at all.
type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// CommitTransition applies a settlement plan. The status update doubles as
// the concurrency guard: it matches on the expected previous status, so of
// N concurrent callers exactly one commits the financial effects.
// ErrPreconditionFailed means this caller lost (or the transition was a
// no-op); ErrInvariantViolation means a guarded balance would have gone
// negative and nothing was written.
func (s *Store) CommitTransition(ctx context.Context, plan *ledger.Plan, audit *models.AuditRecord) error {
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
			plan.NewStatus, plan.TransactionID, plan.ExpectedStatus,
		)
		if err != nil {
			return fmt.Errorf("update transaction status: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return models.ErrPreconditionFailed
		}

		for _, delta := range plan.Deltas {
			if err := applyDelta(ctx, tx, delta); err != nil {
				return err
			}
		}

		if audit != nil {
			if err := insertAudit(ctx, tx, audit); err != nil {
				return err
			}
		}
		return nil
	})
}

// applyDelta issues a single atomic adjustment. Spendable and frozen
// balances carry a non-negativity guard in the WHERE clause; zero rows
// affected means the guard (or the row lookup) failed.
func applyDelta(ctx context.Context, tx pgx.Tx, delta ledger.Delta) error {
	table, err := deltaTable(delta.Account)
	if err != nil {
		return err
	}
	column, guarded, err := deltaColumn(delta.Field)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET %s = %s + $1 WHERE id = $2`, table, column, column)
	if guarded {
		query += fmt.Sprintf(` AND %s + $1 >= 0`, column)
	}

	tag, err := tx.Exec(ctx, query, delta.Amount, delta.AccountID)
	if err != nil {
		return fmt.Errorf("apply delta %s: %w", delta, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("apply delta %s: %w", delta, models.ErrInvariantViolation)
	}
	return nil
}

func deltaTable(account string) (string, error) {
	switch account {
	case ledger.AccountTrader:
		return "users", nil
	case ledger.AccountMerchant:
		return "merchants", nil
	default:
		return "", fmt.Errorf("unknown ledger account kind: %q", account)
	}
}

func deltaColumn(field string) (column string, guarded bool, err error) {
	switch field {
	case ledger.FieldBalance:
		return "balance_usdt", true, nil
	case ledger.FieldFrozen:
		return "frozen_usdt", true, nil
	case ledger.FieldProfit:
		return "profit_from_deals", false, nil
	default:
		return "", false, fmt.Errorf("unknown ledger field: %q", field)
	}
}

func insertAudit(ctx context.Context, tx pgx.Tx, rec *models.AuditRecord) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO audit_log (entity_type, entity_id, actor_id, action, prev_state, next_state, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		rec.EntityType, rec.EntityID, rec.ActorID, rec.Action,
		textParam(rec.PrevState), textParam(rec.NextState), rec.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// WriteAudit inserts a standalone audit row outside any settlement plan.
func (s *Store) WriteAudit(ctx context.Context, rec *models.AuditRecord) error {
	return s.RunInTx(ctx, func(tx pgx.Tx) error {
		return insertAudit(ctx, tx, rec)
	})
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
