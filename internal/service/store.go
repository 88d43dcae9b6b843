package service

import (
	"context"

	"github.com/ovalpay/settlements/internal/ledger"
	"github.com/ovalpay/settlements/internal/models"
)

// Reader is the record-lookup contract services need from persistence.
type Reader interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	GetTrader(ctx context.Context, id string) (*models.Trader, error)
	GetMerchant(ctx context.Context, id string) (*models.Merchant, error)
	GetMethod(ctx context.Context, id string) (*models.Method, error)
}

// Committer applies a settlement plan atomically: the status compare-and-set,
// every balance delta, and the audit row commit together or not at all.
type Committer interface {
	CommitTransition(ctx context.Context, plan *ledger.Plan, audit *models.AuditRecord) error
}
