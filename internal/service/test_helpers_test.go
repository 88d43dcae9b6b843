package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/ovalpay/settlements/internal/ledger"
	"github.com/ovalpay/settlements/internal/models"
	"github.com/shopspring/decimal"
)

// memStore is an in-memory Reader/Committer with the same commit semantics
// as the database store: status compare-and-set first, then every delta
// validated against the non-negativity guards, then everything applied, or
// nothing at all. failOn lets tests inject a failure mid-plan.
type memStore struct {
	mu sync.Mutex

	transactions map[string]*models.Transaction
	traders      map[string]*models.Trader
	merchants    map[string]*models.Merchant
	methods      map[string]*models.Method
	audits       []models.AuditRecord

	failOn func(delta ledger.Delta) error
}

func newMemStore() *memStore {
	return &memStore{
		transactions: make(map[string]*models.Transaction),
		traders:      make(map[string]*models.Trader),
		merchants:    make(map[string]*models.Merchant),
		methods:      make(map[string]*models.Method),
	}
}

func (m *memStore) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trx, ok := m.transactions[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	clone := *trx
	return &clone, nil
}

func (m *memStore) GetTrader(_ context.Context, id string) (*models.Trader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trader, ok := m.traders[id]
	if !ok {
		return nil, models.ErrTraderNotFound
	}
	clone := *trader
	return &clone, nil
}

func (m *memStore) GetMerchant(_ context.Context, id string) (*models.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merchant, ok := m.merchants[id]
	if !ok {
		return nil, models.ErrMerchantNotFound
	}
	clone := *merchant
	return &clone, nil
}

func (m *memStore) GetMethod(_ context.Context, id string) (*models.Method, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	method, ok := m.methods[id]
	if !ok {
		return nil, models.ErrMethodNotFound
	}
	clone := *method
	return &clone, nil
}

func (m *memStore) CommitTransition(_ context.Context, plan *ledger.Plan, audit *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	trx, ok := m.transactions[plan.TransactionID]
	if !ok || trx.Status != plan.ExpectedStatus {
		return models.ErrPreconditionFailed
	}

	// Validation pass: nothing is written until every delta clears.
	for _, delta := range plan.Deltas {
		if m.failOn != nil {
			if err := m.failOn(delta); err != nil {
				return err
			}
		}
		current, guarded, err := m.fieldValue(delta)
		if err != nil {
			return err
		}
		if guarded && current.Add(delta.Amount).IsNegative() {
			return fmt.Errorf("apply delta %s: %w", delta, models.ErrInvariantViolation)
		}
	}

	trx.Status = plan.NewStatus
	for _, delta := range plan.Deltas {
		m.applyDelta(delta)
	}
	if audit != nil {
		m.audits = append(m.audits, *audit)
	}
	return nil
}

func (m *memStore) fieldValue(delta ledger.Delta) (decimal.Decimal, bool, error) {
	switch delta.Account {
	case ledger.AccountTrader:
		trader, ok := m.traders[delta.AccountID]
		if !ok {
			return decimal.Zero, false, fmt.Errorf("apply delta %s: %w", delta, models.ErrInvariantViolation)
		}
		switch delta.Field {
		case ledger.FieldBalance:
			return trader.BalanceUsdt, true, nil
		case ledger.FieldFrozen:
			return trader.FrozenUsdt, true, nil
		case ledger.FieldProfit:
			return trader.ProfitFromDeals, false, nil
		}
	case ledger.AccountMerchant:
		merchant, ok := m.merchants[delta.AccountID]
		if !ok {
			return decimal.Zero, false, fmt.Errorf("apply delta %s: %w", delta, models.ErrInvariantViolation)
		}
		if delta.Field == ledger.FieldBalance {
			return merchant.BalanceUsdt, true, nil
		}
	}
	return decimal.Zero, false, fmt.Errorf("unknown delta target: %s", delta)
}

func (m *memStore) applyDelta(delta ledger.Delta) {
	switch delta.Account {
	case ledger.AccountTrader:
		trader := m.traders[delta.AccountID]
		switch delta.Field {
		case ledger.FieldBalance:
			trader.BalanceUsdt = trader.BalanceUsdt.Add(delta.Amount)
		case ledger.FieldFrozen:
			trader.FrozenUsdt = trader.FrozenUsdt.Add(delta.Amount)
		case ledger.FieldProfit:
			trader.ProfitFromDeals = trader.ProfitFromDeals.Add(delta.Amount)
		}
	case ledger.AccountMerchant:
		m.merchants[delta.AccountID].BalanceUsdt = m.merchants[delta.AccountID].BalanceUsdt.Add(delta.Amount)
	}
}

func (m *memStore) SetTransactionTrader(_ context.Context, id string, traderID *string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	trx, ok := m.transactions[id]
	if !ok {
		return nil, models.ErrTransactionNotFound
	}
	trx.TraderID = traderID
	clone := *trx
	return &clone, nil
}

func (m *memStore) WriteAudit(_ context.Context, rec *models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, *rec)
	return nil
}

func (m *memStore) trader(id string) models.Trader {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.traders[id]
}

func (m *memStore) merchant(id string) models.Merchant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.merchants[id]
}

func (m *memStore) transaction(id string) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.transactions[id]
}

// stubNotifier records callbacks instead of delivering them.
type stubNotifier struct {
	mu     sync.Mutex
	calls  int
	result *NotifyResult
}

func (n *stubNotifier) NotifyStatus(_ context.Context, trx *models.Transaction, _ string) *NotifyResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	if n.result != nil {
		return n.result
	}
	return &NotifyResult{URL: trx.CallbackURI, Status: 200}
}

func (n *stubNotifier) callCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
