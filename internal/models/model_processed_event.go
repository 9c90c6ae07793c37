package models

import "time"

// ProcessedEvent is the idempotency ledger. The (source, event_id) unique index
// is what makes concurrent redelivery safe; the application-level lookup is
// only a shortcut.
type ProcessedEvent struct {
	ID      string `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Source  string `gorm:"column:source;type:varchar(32);not null;uniqueIndex:uniq_source_event_id,priority:1" json:"source"`
	EventID string `gorm:"column:event_id;type:varchar(255);not null;uniqueIndex:uniq_source_event_id,priority:2" json:"event_id"`
	Kind    string `gorm:"column:kind;type:varchar(64);not null" json:"kind"`
	// Outcome is what the caller was told, e.g. "applied" or "rejected:<reason>".
	Outcome     string    `gorm:"column:outcome;type:text;not null" json:"outcome"`
	OutcomeHash string    `gorm:"column:outcome_hash;type:varchar(64);not null" json:"outcome_hash"`
	ProcessedAt time.Time `gorm:"column:processed_at;not null" json:"processed_at"`
}

func (ProcessedEvent) TableName() string {
	return "processed_event"
}
