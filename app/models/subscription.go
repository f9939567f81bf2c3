package models

import "time"

const (
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusExpired   = "expired"
)

// Subscription is the single current subscription row per user. It is created
// and renewed only by the lifecycle manager, keyed by source_order_id for
// idempotent activation.
type Subscription struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	Plan          string    `gorm:"type:varchar(50);not null" json:"plan"`
	Status        string    `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	StartDate     time.Time `gorm:"type:timestamp;not null" json:"start_date"`
	EndDate       time.Time `gorm:"type:timestamp;not null;index" json:"end_date"`
	SourceOrderID string    `gorm:"type:varchar(64);not null;index" json:"source_order_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsCurrent reports whether the subscription entitles the user right now.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == SubscriptionStatusActive && now.Before(s.EndDate)
}
