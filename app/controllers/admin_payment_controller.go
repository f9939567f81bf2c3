package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/jobqueue"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/payments"
)

// AdminPaymentController exposes operator endpoints for the subscription
// sweeps and the reconciliation queue.
type AdminPaymentController struct {
	lifecycle *payments.Lifecycle
}

func NewAdminPaymentController(lifecycle *payments.Lifecycle) *AdminPaymentController {
	return &AdminPaymentController{lifecycle: lifecycle}
}

// HandleExpireSweep runs a subscription expiry sweep synchronously and
// reports how many subscriptions were demoted.
func (ac *AdminPaymentController) HandleExpireSweep(c *fiber.Ctx) error {
	expired, err := ac.lifecycle.ExpireSweep(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] expire sweep failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "expire_sweep_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "expired": expired})
}

// HandleReconcileEnqueue schedules an immediate reconciliation pass.
func (ac *AdminPaymentController) HandleReconcileEnqueue(c *fiber.Ctx) error {
	manager := jobqueue.GetManager()
	if manager == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "job_queue_unavailable"})
	}

	payload := jobqueue.ReconcileOrdersJobPayload{}
	if v := c.QueryInt("older_than_minutes"); v > 0 {
		payload.OlderThanMinutes = v
	}
	if v := c.QueryInt("limit"); v > 0 {
		payload.Limit = v
	}

	job, err := manager.GetQueue().EnqueueJob(jobqueue.JobTypeReconcileOrders, payload.ToMap())
	if err != nil {
		log.Errorf("[Admin] enqueuing reconcile job failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "enqueue_failed"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"ok": true, "job_id": job.ID})
}

// HandleJobStats reports queue depth and per-status job counters.
func (ac *AdminPaymentController) HandleJobStats(c *fiber.Ctx) error {
	manager := jobqueue.GetManager()
	if manager == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "job_queue_unavailable"})
	}
	queue := manager.GetQueue()

	stats, err := queue.GetJobStats(c.UserContext())
	if err != nil {
		log.Errorf("[Admin] reading job stats failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	pending, _ := queue.GetQueueSize(c.UserContext())
	processing, _ := queue.GetProcessingSize(c.UserContext())

	return c.JSON(fiber.Map{
		"running":    manager.IsRunning(),
		"pending":    pending,
		"processing": processing,
		"stats":      stats,
	})
}
