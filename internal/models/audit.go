package models

import "time"

// AuditRecord is one immutable audit trail row. Transition audits are
// written inside the same storage transaction as the ledger effects.
type AuditRecord struct {
	ID         int64     `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	ActorID    *string   `json:"actor_id,omitempty"`
	Action     string    `json:"action"`
	PrevState  string    `json:"prev_state,omitempty"`
	NextState  string    `json:"next_state,omitempty"`
	Metadata   []byte    `json:"metadata,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
