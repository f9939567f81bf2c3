package repository

import (
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

func (r *subscriptionRepository) GetByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *subscriptionRepository) GetBySourceOrderID(orderID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("source_order_id = ?", orderID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Upsert writes the single current subscription row per user, keyed on the
// unique user_id index.
func (r *subscriptionRepository) Upsert(sub *models.Subscription) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"plan",
			"status",
			"start_date",
			"end_date",
			"source_order_id",
			"updated_at",
		}),
	}).Create(sub).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("user_id = ?", sub.UserID).First(sub).Error
}

// ExpireDue flips active rows whose end date has passed and returns them so
// the caller can demote the affected users.
func (r *subscriptionRepository) ExpireDue(now time.Time) ([]models.Subscription, error) {
	var due []models.Subscription
	if err := r.db.Where("status = ? AND end_date < ?", models.SubscriptionStatusActive, now).
		Find(&due).Error; err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(due))
	for _, sub := range due {
		ids = append(ids, sub.ID)
	}
	if err := r.db.Model(&models.Subscription{}).
		Where("id IN ? AND status = ?", ids, models.SubscriptionStatusActive).
		Update("status", models.SubscriptionStatusExpired).Error; err != nil {
		return nil, err
	}
	return due, nil
}
