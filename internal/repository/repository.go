package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ovalpay/settlements/internal/models"
)

// Repository provides row-level access to the platform entities.
type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const transactionColumns = `id, merchant_id, method_id, trader_id, order_id, direction, status,
	amount, currency, rate, commission, calculated_commission, frozen_usdt_amount,
	callback_uri, success_uri, fail_uri, expired_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	trx := &models.Transaction{}
	err := row.Scan(
		&trx.ID, &trx.MerchantID, &trx.MethodID, &trx.TraderID, &trx.OrderID,
		&trx.Direction, &trx.Status, &trx.Amount, &trx.Currency, &trx.Rate,
		&trx.Commission, &trx.CalculatedCommission, &trx.FrozenUsdtAmount,
		&trx.CallbackURI, &trx.SuccessURI, &trx.FailURI,
		&trx.ExpiredAt, &trx.CreatedAt, &trx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	return trx, nil
}

func (r *Repository) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *Repository) GetTrader(ctx context.Context, id string) (*models.Trader, error) {
	trader := &models.Trader{}
	query := `SELECT id, email, balance_usdt, frozen_usdt, profit_from_deals,
		stake_percent, profit_percent, banned, created_at
		FROM users WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&trader.ID, &trader.Email, &trader.BalanceUsdt, &trader.FrozenUsdt,
		&trader.ProfitFromDeals, &trader.StakePercent, &trader.ProfitPercent,
		&trader.Banned, &trader.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTraderNotFound
		}
		return nil, fmt.Errorf("get trader: %w", err)
	}
	return trader, nil
}

func (r *Repository) GetMerchant(ctx context.Context, id string) (*models.Merchant, error) {
	merchant := &models.Merchant{}
	query := `SELECT id, name, token, balance_usdt, created_at FROM merchants WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&merchant.ID, &merchant.Name, &merchant.Token, &merchant.BalanceUsdt, &merchant.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMerchantNotFound
		}
		return nil, fmt.Errorf("get merchant: %w", err)
	}
	return merchant, nil
}

func (r *Repository) GetMethod(ctx context.Context, id string) (*models.Method, error) {
	method := &models.Method{}
	query := `SELECT id, code, name, currency, commission_payin FROM methods WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&method.ID, &method.Code, &method.Name, &method.Currency, &method.CommissionPayin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrMethodNotFound
		}
		return nil, fmt.Errorf("get method: %w", err)
	}
	return method, nil
}

// SetTransactionTrader binds or unbinds the deal owner. The freeze fields are
// untouched here: freeze application happens outside this service.
func (r *Repository) SetTransactionTrader(ctx context.Context, id string, traderID *string) (*models.Transaction, error) {
	query := `UPDATE transactions SET trader_id = $1, updated_at = NOW()
		WHERE id = $2 RETURNING ` + transactionColumns
	return scanTransaction(r.db.QueryRow(ctx, query, traderID, id))
}

// GetStaleOnlineDevices returns devices still flagged online whose last
// health check is older than the cutoff.
func (r *Repository) GetStaleOnlineDevices(ctx context.Context, cutoff time.Time, limit int32) ([]models.Device, error) {
	query := `SELECT id, trader_id, name, is_online, last_seen_at, created_at
		FROM devices
		WHERE is_online = TRUE AND last_seen_at < $1
		ORDER BY last_seen_at ASC
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("get stale devices: %w", err)
	}
	defer rows.Close()

	var devices []models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(&d.ID, &d.TraderID, &d.Name, &d.IsOnline, &d.LastSeenAt, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// MarkDeviceOffline flips is_online off; reports whether the device was
// still online when the update ran.
func (r *Repository) MarkDeviceOffline(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `UPDATE devices SET is_online = FALSE WHERE id = $1 AND is_online = TRUE`, id)
	if err != nil {
		return false, fmt.Errorf("mark device offline: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	query := `INSERT INTO notifications (id, type, title, message, device_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW()) RETURNING created_at`
	err := r.db.QueryRow(ctx, query, n.ID, n.Type, n.Title, n.Message, n.DeviceID, n.Metadata).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// TraderFreezeMismatch is a reconciliation finding: the trader's frozen pool
// does not cover the sum of freezes on their open deals.
type TraderFreezeMismatch struct {
	TraderID   string
	FrozenUsdt string
	OpenFrozen string
}

// GetNegativeBalanceTraders returns trader ids whose balance or frozen pool
// has gone negative. A non-empty result means a guard was bypassed somewhere.
func (r *Repository) GetNegativeBalanceTraders(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE balance_usdt < 0 OR frozen_usdt < 0`)
	if err != nil {
		return nil, fmt.Errorf("scan negative balances: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan trader id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetFreezeMismatches compares each trader's frozen pool against the total
// freeze reserved by their open inbound deals.
func (r *Repository) GetFreezeMismatches(ctx context.Context) ([]TraderFreezeMismatch, error) {
	query := `
		SELECT u.id, u.frozen_usdt::text,
			COALESCE(SUM(t.frozen_usdt_amount + t.calculated_commission), 0)::text AS open_frozen
		FROM users u
		LEFT JOIN transactions t
			ON t.trader_id = u.id
			AND t.direction = 'IN'
			AND t.status NOT IN ('READY', 'CANCELED', 'EXPIRED')
			AND t.frozen_usdt_amount IS NOT NULL
			AND t.calculated_commission IS NOT NULL
		GROUP BY u.id, u.frozen_usdt
		HAVING u.frozen_usdt < COALESCE(SUM(t.frozen_usdt_amount + t.calculated_commission), 0)
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("scan freeze mismatches: %w", err)
	}
	defer rows.Close()

	var out []TraderFreezeMismatch
	for rows.Next() {
		var m TraderFreezeMismatch
		if err := rows.Scan(&m.TraderID, &m.FrozenUsdt, &m.OpenFrozen); err != nil {
			return nil, fmt.Errorf("scan freeze mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
