package repository

import (
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new payment order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

func (r *orderRepository) GetByOrderID(orderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := r.db.Where("order_id = ?", orderID).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// HasOutstanding reports whether the user already has an order in a
// non-terminal status.
func (r *orderRepository) HasOutstanding(userID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.PaymentOrder{}).
		Where("user_id = ? AND status IN ?", userID, models.OutstandingOrderStatuses()).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateStatusIf is the compare-and-set primitive the state machine relies on.
// The WHERE clause carries the expected status so only one concurrent caller
// can observe the transition.
func (r *orderRepository) UpdateStatusIf(orderID, expected, target string, changes map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": target}
	for k, v := range changes {
		updates[k] = v
	}
	res := r.db.Model(&models.PaymentOrder{}).
		Where("order_id = ? AND status = ?", orderID, expected).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *orderRepository) ListStale(statuses []string, olderThan time.Time, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	q := r.db.Where("status IN ? AND created_at < ?", statuses, olderThan).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&orders).Error
	return orders, err
}
