package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
)

// TransitionResult classifies the outcome of ApplyTransition.
type TransitionResult string

const (
	// TransitionApplied means this caller performed the status change.
	TransitionApplied TransitionResult = "applied"
	// TransitionNoOp means the order already carried the target status. The
	// second arrival of a racing confirmation lands here.
	TransitionNoOp TransitionResult = "noop"
	// TransitionConflict means the target contradicts a terminal status. It is
	// surfaced for operator review and never auto-resolved.
	TransitionConflict TransitionResult = "conflict"
)

// Evidence describes where a transition claim came from.
type Evidence struct {
	Source    string // "client", "webhook" or "reconcile"
	PaymentID string
	Note      string
}

// StateMachine is the single authority for payment order status changes. All
// confirmation paths report into ApplyTransition; the conditional update in
// the order repository linearizes concurrent callers.
type StateMachine struct {
	orders    repository.OrderRepository
	lifecycle *Lifecycle
	now       func() time.Time
}

// NewStateMachine wires the state machine with its collaborators.
func NewStateMachine(orders repository.OrderRepository, lifecycle *Lifecycle, now func() time.Time) *StateMachine {
	if now == nil {
		now = time.Now
	}
	return &StateMachine{orders: orders, lifecycle: lifecycle, now: now}
}

// ApplyTransition moves an order toward target and, exactly once per order,
// activates the subscription when the order transitions into paid. Only the
// caller whose conditional update succeeds observes TransitionApplied; a
// racing caller re-reads and lands on NoOp or Conflict.
func (m *StateMachine) ApplyTransition(ctx context.Context, orderID, target string, ev Evidence) (TransitionResult, *models.PaymentOrder, error) {
	if !isOrderStatus(target) {
		return "", nil, fmt.Errorf("%w: unknown target status %q", ErrValidation, target)
	}

	order, err := m.orders.GetByOrderID(orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrOrderNotFound
		}
		return "", nil, fmt.Errorf("%w: loading order %s: %v", ErrPersistence, orderID, err)
	}

	for {
		if order.Status == target {
			if target == models.OrderStatusPaid {
				// Re-settlement of an already paid order still ensures the
				// subscription exists: activation may have failed after the
				// winning transition, and ActivateFor is idempotent.
				if _, err := m.lifecycle.ActivateFor(ctx, order); err != nil {
					log.Errorf("[PaymentFSM] activation retry failed for paid order %s: %v", orderID, err)
					return TransitionNoOp, order, err
				}
			}
			return TransitionNoOp, order, nil
		}
		if order.IsTerminal() {
			log.Errorf("[PaymentFSM] conflict on order %s: %s -> %s rejected (source=%s payment=%s)",
				orderID, order.Status, target, ev.Source, ev.PaymentID)
			return TransitionConflict, order, nil
		}

		applied, err := m.orders.UpdateStatusIf(orderID, order.Status, target, m.transitionChanges(target, ev))
		if err != nil {
			return "", order, fmt.Errorf("%w: transition %s -> %s on order %s: %v", ErrPersistence, order.Status, target, orderID, err)
		}
		if applied {
			order, err = m.orders.GetByOrderID(orderID)
			if err != nil {
				return TransitionApplied, nil, fmt.Errorf("%w: re-reading order %s: %v", ErrPersistence, orderID, err)
			}
			if target == models.OrderStatusPaid {
				if _, err := m.lifecycle.ActivateFor(ctx, order); err != nil {
					// The order is paid; activation will converge through the
					// idempotent lifecycle on the next confirmation channel.
					log.Errorf("[PaymentFSM] activation failed for paid order %s: %v", orderID, err)
					return TransitionApplied, order, err
				}
			}
			return TransitionApplied, order, nil
		}

		// Lost the race against a concurrent caller; reclassify against the
		// fresh status.
		order, err = m.orders.GetByOrderID(orderID)
		if err != nil {
			return "", nil, fmt.Errorf("%w: re-reading order %s: %v", ErrPersistence, orderID, err)
		}
	}
}

func (m *StateMachine) transitionChanges(target string, ev Evidence) map[string]interface{} {
	now := m.now()
	changes := map[string]interface{}{}
	if ev.PaymentID != "" {
		changes["payment_id"] = ev.PaymentID
	}
	switch target {
	case models.OrderStatusPaid:
		changes["paid_at"] = &now
	case models.OrderStatusFailed, models.OrderStatusCancelled:
		changes["failed_at"] = &now
	}
	return changes
}

func isOrderStatus(status string) bool {
	switch status {
	case models.OrderStatusCreated, models.OrderStatusPending, models.OrderStatusPaid,
		models.OrderStatusFailed, models.OrderStatusCancelled:
		return true
	default:
		return false
	}
}
