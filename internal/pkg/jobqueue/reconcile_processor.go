package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/payments"
)

const (
	defaultReconcileAfterMinutes = 15
	defaultReconcileBatchLimit   = 100
)

// ProcessorDeps carries the collaborators the job processors operate on.
// Injected at queue construction so processors never reach for globals.
type ProcessorDeps struct {
	Orders    repository.OrderRepository
	Events    repository.WebhookEventRepository
	Gateway   payments.Gateway
	FSM       *payments.StateMachine
	Ingestor  *payments.Ingestor
	Lifecycle *payments.Lifecycle
}

// processReconcileOrdersJob re-checks stale non-terminal orders against the
// gateway and replays webhook events that never settled. The gateway is the
// source of truth: an order it reports paid is applied through the same state
// machine the webhook path uses, and an order abandoned past the cutoff is
// cancelled locally.
func (q *Queue) processReconcileOrdersJob(ctx context.Context, job *Job) error {
	if q.deps == nil || q.deps.Orders == nil || q.deps.Gateway == nil || q.deps.FSM == nil {
		return fmt.Errorf("reconcile job %s: processor dependencies not configured", job.ID)
	}

	payload, err := ReconcileOrdersJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid reconcile payload: %w", err)
	}
	if payload.OlderThanMinutes <= 0 {
		payload.OlderThanMinutes = env.GetEnvInt("RECONCILE_AFTER_MINUTES", defaultReconcileAfterMinutes)
	}
	if payload.Limit <= 0 {
		payload.Limit = defaultReconcileBatchLimit
	}

	cutoff := time.Now().Add(-time.Duration(payload.OlderThanMinutes) * time.Minute)
	stale, err := q.deps.Orders.ListStale(models.OutstandingOrderStatuses(), cutoff, payload.Limit)
	if err != nil {
		return fmt.Errorf("listing stale orders: %w", err)
	}

	abandonAfter := time.Duration(env.GetEnvInt("ORDER_ABANDON_HOURS", 24)) * time.Hour
	var checked, settled, failures int
	for i := range stale {
		order := &stale[i]
		checked++
		changed, err := q.reconcileOrder(ctx, order, abandonAfter)
		if err != nil {
			failures++
			log.Errorf("[Reconcile] order %s: %v", order.OrderID, err)
			continue
		}
		if changed {
			settled++
		}
	}

	replayed, replayErrs := q.replayUnresolvedEvents(ctx, cutoff, payload.Limit)

	log.Infof("[Reconcile] checked=%d settled=%d failed=%d replayed_events=%d", checked, settled, failures, replayed)
	if failures > 0 || replayErrs > 0 {
		return fmt.Errorf("reconcile finished with %d order failures, %d replay failures", failures, replayErrs)
	}
	return nil
}

// reconcileOrder resolves a single stale order. Reports whether the order
// reached a terminal state in this pass.
func (q *Queue) reconcileOrder(ctx context.Context, order *models.PaymentOrder, abandonAfter time.Duration) (bool, error) {
	remote, err := q.deps.Gateway.FetchOrder(ctx, order.OrderID)
	if err != nil {
		if errors.Is(err, payments.ErrGatewayUnavailable) {
			return false, fmt.Errorf("gateway lookup: %w", err)
		}
		return false, err
	}

	switch remote.Status {
	case "paid":
		result, _, err := q.deps.FSM.ApplyTransition(ctx, order.OrderID, models.OrderStatusPaid, payments.Evidence{
			Source: "reconcile",
			Note:   "gateway reports order paid",
		})
		if err != nil {
			return false, err
		}
		return result == payments.TransitionApplied, nil
	case "created", "attempted":
		// Still open on the gateway side. Cancel only once the order is old
		// enough that no payment attempt is plausibly in flight.
		if time.Since(order.CreatedAt) < abandonAfter {
			return false, nil
		}
		result, _, err := q.deps.FSM.ApplyTransition(ctx, order.OrderID, models.OrderStatusCancelled, payments.Evidence{
			Source: "reconcile",
			Note:   fmt.Sprintf("abandoned after %s", abandonAfter),
		})
		if err != nil {
			return false, err
		}
		return result == payments.TransitionApplied, nil
	default:
		log.Warnf("[Reconcile] order %s has unexpected gateway status %q, leaving untouched", order.OrderID, remote.Status)
		return false, nil
	}
}

// replayUnresolvedEvents re-dispatches webhook events that were persisted but
// never marked applied, covering crashes between persist and dispatch.
func (q *Queue) replayUnresolvedEvents(ctx context.Context, cutoff time.Time, limit int) (replayed, failures int) {
	if q.deps.Events == nil || q.deps.Ingestor == nil {
		return 0, 0
	}

	events, err := q.deps.Events.ListUnresolved(cutoff, limit)
	if err != nil {
		log.Errorf("[Reconcile] listing unresolved events: %v", err)
		return 0, 1
	}

	for i := range events {
		if err := q.deps.Ingestor.Replay(ctx, &events[i]); err != nil {
			failures++
			log.Errorf("[Reconcile] replaying event %s: %v", events[i].EventID, err)
			continue
		}
		replayed++
	}
	return replayed, failures
}

// processExpireSubscriptionsJob demotes subscriptions whose paid period has
// lapsed.
func (q *Queue) processExpireSubscriptionsJob(ctx context.Context, job *Job) error {
	if q.deps == nil || q.deps.Lifecycle == nil {
		return fmt.Errorf("expire job %s: processor dependencies not configured", job.ID)
	}

	expired, err := q.deps.Lifecycle.ExpireSweep(ctx)
	if err != nil {
		return fmt.Errorf("expire sweep: %w", err)
	}
	if expired > 0 {
		log.Infof("[Reconcile] expired %d subscriptions", expired)
	}
	return nil
}
