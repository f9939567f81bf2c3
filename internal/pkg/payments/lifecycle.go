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
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/entitlements"
)

// Lifecycle activates, renews and expires user subscriptions from confirmed
// payments. Activation is idempotent per source order id.
type Lifecycle struct {
	subs  repository.SubscriptionRepository
	users repository.UserRepository
	now   func() time.Time
}

// NewLifecycle wires the lifecycle manager with its repositories.
func NewLifecycle(subs repository.SubscriptionRepository, users repository.UserRepository, now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{subs: subs, users: users, now: now}
}

// ActivateFor creates or renews the user's subscription from a paid order.
// A subscription already sourced from the same order is returned unchanged,
// which guards against double invocation across a process restart. Renewal
// stacks remaining time: paying early never forfeits the days already owned.
func (l *Lifecycle) ActivateFor(ctx context.Context, order *models.PaymentOrder) (*models.Subscription, error) {
	_ = ctx
	if order == nil || order.OrderID == "" {
		return nil, fmt.Errorf("%w: order is required for activation", ErrValidation)
	}

	if existing, err := l.subs.GetBySourceOrderID(order.OrderID); err == nil {
		return existing, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: activation lookup for order %s: %v", ErrPersistence, order.OrderID, err)
	}

	now := l.now()
	plan := entitlements.Normalize(order.Plan)
	start := now
	end := now.Add(entitlements.Duration(plan))

	if current, err := l.subs.GetByUserID(order.UserID); err == nil {
		if current.IsCurrent(now) {
			end = current.EndDate.Add(entitlements.Duration(plan))
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: current subscription lookup for user %d: %v", ErrPersistence, order.UserID, err)
	}

	sub := &models.Subscription{
		UserID:        order.UserID,
		Plan:          string(plan),
		Status:        models.SubscriptionStatusActive,
		StartDate:     start,
		EndDate:       end,
		SourceOrderID: order.OrderID,
	}
	if err := l.subs.Upsert(sub); err != nil {
		return nil, fmt.Errorf("%w: subscription upsert for user %d: %v", ErrPersistence, order.UserID, err)
	}

	if err := l.syncUserPlan(order.UserID, string(plan)); err != nil {
		log.Errorf("[Lifecycle] plan sync failed for user %d: %v", order.UserID, err)
	}

	log.Infof("[Lifecycle] subscription active for user %d until %s (order %s, plan %s)",
		order.UserID, end.Format(time.RFC3339), order.OrderID, plan)
	return sub, nil
}

// Cancel marks the user's subscription cancelled. Remaining paid time stays
// usable until the end date; only the status changes.
func (l *Lifecycle) Cancel(ctx context.Context, userID uint) (*models.Subscription, error) {
	_ = ctx
	sub, err := l.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("%w: subscription lookup for user %d: %v", ErrPersistence, userID, err)
	}
	if sub.Status != models.SubscriptionStatusActive {
		return sub, nil
	}
	sub.Status = models.SubscriptionStatusCancelled
	if err := l.subs.Upsert(sub); err != nil {
		return nil, fmt.Errorf("%w: cancelling subscription for user %d: %v", ErrPersistence, userID, err)
	}
	return sub, nil
}

// ExpireSweep expires active subscriptions past their end date and demotes
// the affected users to the free plan. Returns how many rows were expired.
// Scheduling is the caller's responsibility.
func (l *Lifecycle) ExpireSweep(ctx context.Context) (int, error) {
	_ = ctx
	expired, err := l.subs.ExpireDue(l.now())
	if err != nil {
		return 0, fmt.Errorf("%w: expire sweep: %v", ErrPersistence, err)
	}

	for _, sub := range expired {
		if err := l.syncUserPlan(sub.UserID, string(entitlements.PlanFree)); err != nil {
			log.Errorf("[Lifecycle] plan demotion failed for user %d: %v", sub.UserID, err)
		}
	}
	if len(expired) > 0 {
		log.Infof("[Lifecycle] expired %d subscriptions", len(expired))
	}
	return len(expired), nil
}

func (l *Lifecycle) syncUserPlan(userID uint, plan string) error {
	us, err := l.users.GetOrCreateSettings(userID)
	if err != nil {
		return err
	}
	if us.Plan == plan {
		return nil
	}
	us.Plan = plan
	return l.users.SaveSettings(us)
}
