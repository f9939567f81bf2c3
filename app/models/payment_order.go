package models

import "time"

const (
	OrderStatusCreated   = "created"
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
)

// PaymentOrder mirrors a gateway-side payment intent. Rows are never deleted;
// status transitions are applied through conditional updates only.
type PaymentOrder struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	OrderID   string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"order_id"`
	UserID    uint       `gorm:"not null;index:idx_payment_orders_user_status,priority:1" json:"user_id"`
	Plan      string     `gorm:"type:varchar(50);not null" json:"plan"`
	Amount    int64      `gorm:"not null" json:"amount"`
	Currency  string     `gorm:"type:varchar(8);not null;default:'INR'" json:"currency"`
	Receipt   string     `gorm:"type:varchar(64);not null;default:''" json:"receipt"`
	Status    string     `gorm:"type:varchar(16);not null;default:'created';index:idx_payment_orders_user_status,priority:2" json:"status"`
	PaymentID string     `gorm:"type:varchar(64);not null;default:'';index" json:"payment_id,omitempty"`
	PaidAt    *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	FailedAt  *time.Time `gorm:"type:timestamp;default:null" json:"failed_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order status permits no further transition.
func (o *PaymentOrder) IsTerminal() bool {
	return IsTerminalOrderStatus(o.Status)
}

func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OutstandingOrderStatuses are the statuses that block a new order for the
// same user.
func OutstandingOrderStatuses() []string {
	return []string{OrderStatusCreated, OrderStatusPending}
}
