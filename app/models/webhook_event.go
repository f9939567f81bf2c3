package models

import "time"

const (
	WebhookOutcomePending   = "pending"
	WebhookOutcomeApplied   = "applied"
	WebhookOutcomeDuplicate = "duplicate"
	WebhookOutcomeRejected  = "rejected"
	WebhookOutcomeErrored   = "errored"
)

// WebhookEvent stores gateway webhook payloads with deduplication metadata.
// The gateway event id is the idempotency key; the payload is the raw body as
// received and is immutable, only outcome/processed_at are updated.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	EventID         string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	Outcome         string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"outcome"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
