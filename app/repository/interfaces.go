package repository

import (
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error)
	GetOrCreateSettings(userID uint) (*models.UserSettings, error)
	SaveSettings(us *models.UserSettings) error
}

// OrderRepository defines database operations on payment orders. Status writes
// go through UpdateStatusIf exclusively so transitions stay race-safe across
// process instances.
type OrderRepository interface {
	Create(order *models.PaymentOrder) error
	GetByOrderID(orderID string) (*models.PaymentOrder, error)
	HasOutstanding(userID uint) (bool, error)
	// UpdateStatusIf performs a conditional status update: the row is written
	// only when its current status equals expected. Reports whether the write
	// was applied.
	UpdateStatusIf(orderID, expected, target string, changes map[string]interface{}) (bool, error)
	ListStale(statuses []string, olderThan time.Time, limit int) ([]models.PaymentOrder, error)
}

// WebhookEventRepository persists gateway webhook events write-once and
// updates only their processing outcome.
type WebhookEventRepository interface {
	// CreateIfNotExists inserts the event unless its event id is already
	// stored. Returns created=false with the stored row on duplicates.
	CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkOutcome(id uint, outcome string, processingError string) error
	// UpdateVerifiedPayload replaces a stored event's payload with the bytes of
	// a signature-verified redelivery and marks the signature valid. Used when
	// a rejected row's event id is later redelivered with a correct signature.
	UpdateVerifiedPayload(id uint, eventType, payloadJSON string) error
	ListUnresolved(olderThan time.Time, limit int) ([]models.WebhookEvent, error)
}

// SubscriptionRepository manages the single current subscription row per user.
type SubscriptionRepository interface {
	GetByUserID(userID uint) (*models.Subscription, error)
	GetBySourceOrderID(orderID string) (*models.Subscription, error)
	Upsert(sub *models.Subscription) error
	ExpireDue(now time.Time) ([]models.Subscription, error)
}

// SecurityEventRepository appends audit records emitted by the risk scorer.
type SecurityEventRepository interface {
	Create(event *models.SecurityEvent) error
	CountRecentByIP(ip string, since time.Time) (int64, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User          UserRepository
	Order         OrderRepository
	WebhookEvent  WebhookEventRepository
	Subscription  SubscriptionRepository
	SecurityEvent SecurityEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:          NewUserRepository(db),
		Order:         NewOrderRepository(db),
		WebhookEvent:  NewWebhookEventRepository(db),
		Subscription:  NewSubscriptionRepository(db),
		SecurityEvent: NewSecurityEventRepository(db),
	}
}
