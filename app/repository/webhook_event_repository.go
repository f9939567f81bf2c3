package repository

import (
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookEventRepository implements the WebhookEventRepository interface
type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// CreateIfNotExists inserts the event guarded by the unique event id index.
// The conflict clause makes redelivered events detectable without a prior
// read, which keeps the dedupe atomic.
func (r *webhookEventRepository) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.Where("event_id = ?", event.EventID).First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookEventRepository) MarkOutcome(id uint, outcome string, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"outcome":          outcome,
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateVerifiedPayload overwrites a stored event with the payload of a
// signature-verified redelivery. Keeps a formerly rejected row from carrying
// unverified bytes once its event id is legitimately redelivered.
func (r *webhookEventRepository) UpdateVerifiedPayload(id uint, eventType, payloadJSON string) error {
	updates := map[string]interface{}{
		"event_type":      eventType,
		"payload_json":    payloadJSON,
		"signature_valid": true,
	}
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// ListUnresolved returns events stuck in pending or errored, for the
// reconciliation sweep.
func (r *webhookEventRepository) ListUnresolved(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.Where("outcome IN ? AND received_at < ?",
		[]string{models.WebhookOutcomePending, models.WebhookOutcomeErrored}, olderThan).
		Order("received_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}
