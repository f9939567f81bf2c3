package controllers

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/payments"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/ratelimit"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/risk"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/usercontext"
)

// PaymentController exposes the payment order, verification and webhook
// endpoints. All collaborators are injected so handlers can be exercised
// against fakes.
type PaymentController struct {
	issuer        *payments.Issuer
	fsm           *payments.StateMachine
	ingestor      *payments.Ingestor
	scorer        *risk.Scorer
	guard         *ratelimit.Guard
	users         repository.UserRepository
	orders        repository.OrderRepository
	subs          repository.SubscriptionRepository
	confirmSecret string
	validate      *validator.Validate
}

// NewPaymentController wires the payment endpoints. confirmSecret is the key
// secret used for client confirmation signatures.
func NewPaymentController(
	issuer *payments.Issuer,
	fsm *payments.StateMachine,
	ingestor *payments.Ingestor,
	scorer *risk.Scorer,
	guard *ratelimit.Guard,
	repos *repository.Repositories,
	confirmSecret string,
) *PaymentController {
	return &PaymentController{
		issuer:        issuer,
		fsm:           fsm,
		ingestor:      ingestor,
		scorer:        scorer,
		guard:         guard,
		users:         repos.User,
		orders:        repos.Order,
		subs:          repos.Subscription,
		confirmSecret: confirmSecret,
		validate:      validator.New(),
	}
}

type createOrderRequest struct {
	Plan string `json:"plan" validate:"required,oneof=pro max"`
}

// HandleCreateOrder creates a gateway order for the requested plan upgrade.
func (pc *PaymentController) HandleCreateOrder(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	if resp := pc.enforceRateLimit(c, "orders"); resp != nil {
		return resp
	}

	var req createOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := pc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_plan", "message": "plan must be pro or max"})
	}

	order, err := pc.issuer.CreateOrder(c.UserContext(), userID, req.Plan)
	if err != nil {
		switch {
		case errors.Is(err, payments.ErrAlreadyPending):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "order_pending",
				"message": "an order is already awaiting payment, complete or wait for it to settle",
			})
		case errors.Is(err, payments.ErrValidation):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_plan"})
		case errors.Is(err, payments.ErrGatewayUnavailable):
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "gateway_unavailable"})
		default:
			log.Errorf("[Payment] order creation for user %d failed: %v", userID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_create_failed"})
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_id": order.OrderID,
		"plan":     order.Plan,
		"amount":   order.Amount,
		"currency": order.Currency,
		"receipt":  order.Receipt,
		// The checkout widget needs the public key id alongside the order.
		"key_id": env.GetEnv("GATEWAY_KEY_ID", ""),
	})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"order_id" validate:"required,max=64"`
	PaymentID string `json:"payment_id" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,max=256"`
}

// HandleVerifyPayment settles an order from the client confirmation callback.
// The signature covers "orderID|paymentID"; a valid one is one payment proof
// among two, the webhook being the other, and both funnel into the same state
// machine.
func (pc *PaymentController) HandleVerifyPayment(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	if resp := pc.enforceRateLimit(c, "verify"); resp != nil {
		return resp
	}

	var req verifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
	}
	if err := pc.validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "missing_fields"})
	}

	order, err := pc.orders.GetByOrderID(req.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		}
		log.Errorf("[Payment] order lookup %s failed: %v", req.OrderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "order_lookup_failed"})
	}
	// Orders are only settled by their owner; other users see not-found.
	if order.UserID != userID {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
	}

	sigValid := payments.VerifyConfirmationSignature(req.OrderID, req.PaymentID, req.Signature, pc.confirmSecret)
	score, signals := pc.scoreVerification(c, userID, sigValid)

	if !sigValid {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
	}

	evidence := payments.Evidence{Source: "client", PaymentID: req.PaymentID}

	if pc.scorer.IsHighRisk(score) {
		// Valid proof but suspicious context: hold the order for manual
		// review instead of activating. The webhook or the reconcile sweep
		// settles it once reviewed.
		log.Warnf("[Payment] deferring activation of order %s (risk=%.2f signals=%v)", order.OrderID, score, signals)
		if _, _, err := pc.fsm.ApplyTransition(c.UserContext(), order.OrderID, models.OrderStatusPending, evidence); err != nil {
			log.Errorf("[Payment] deferring order %s failed: %v", order.OrderID, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status":  "under_review",
			"message": "payment received, subscription activates after review",
		})
	}

	result, updated, err := pc.fsm.ApplyTransition(c.UserContext(), order.OrderID, models.OrderStatusPaid, evidence)
	if err != nil {
		if result == payments.TransitionApplied || result == payments.TransitionNoOp {
			// Order is paid but activation lagged; the reconcile sweep
			// converges it. The payment itself succeeded.
			return c.JSON(fiber.Map{"status": models.OrderStatusPaid, "order_id": order.OrderID, "activation": "pending"})
		}
		if errors.Is(err, payments.ErrOrderNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order_not_found"})
		}
		log.Errorf("[Payment] settling order %s failed: %v", order.OrderID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "settlement_failed"})
	}

	switch result {
	case payments.TransitionConflict:
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "order_conflict",
			"message": "order already settled in a different state",
		})
	case payments.TransitionNoOp:
		return c.JSON(fiber.Map{"status": "already_processed", "order_id": updated.OrderID})
	default:
		resp := fiber.Map{"status": "active", "order_id": updated.OrderID}
		if sub, subErr := pc.subs.GetByUserID(userID); subErr == nil {
			resp["plan"] = sub.Plan
			resp["active_until"] = sub.EndDate
		}
		return c.JSON(resp)
	}
}

// HandleWebhook ingests gateway webhook deliveries. Unresolved processing
// errors answer 5xx so the gateway redelivers.
func (pc *PaymentController) HandleWebhook(c *fiber.Ctx) error {
	// Copy the raw body; fiber reuses the underlying buffer after the
	// handler returns.
	rawBody := append([]byte(nil), c.BodyRaw()...)

	ipv4, ipv6 := GetClientIP(c)
	ip := ipv4
	if ip == "" {
		ip = ipv6
	}

	meta := payments.WebhookMeta{
		EventID:   c.Get("X-Razorpay-Event-Id"),
		Signature: c.Get("X-Razorpay-Signature"),
		IPAddress: ip,
		UserAgent: c.Get("User-Agent"),
	}

	outcome, err := pc.ingestor.Ingest(c.UserContext(), rawBody, meta)
	switch outcome {
	case payments.OutcomeDuplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true, "duplicate": true})
	case payments.OutcomeRejected:
		if errors.Is(err, payments.ErrSignature) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case payments.OutcomeErrored:
		log.Errorf("[Payment] webhook processing failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "processing_failed"})
	default:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"received": true})
	}
}

// HandleGetSubscription reports the caller's current subscription.
func (pc *PaymentController) HandleGetSubscription(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	sub, err := pc.subs.GetByUserID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"plan": "free", "status": "none"})
		}
		log.Errorf("[Payment] subscription lookup for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "subscription_lookup_failed"})
	}

	resp := fiber.Map{
		"plan":       sub.Plan,
		"status":     sub.Status,
		"start_date": sub.StartDate,
		"end_date":   sub.EndDate,
	}
	if !sub.IsCurrent(time.Now()) && sub.Status == models.SubscriptionStatusActive {
		resp["status"] = models.SubscriptionStatusExpired
	}
	return c.JSON(resp)
}

// enforceRateLimit answers 429 when the caller exhausted its window. Returns
// nil when the request may proceed.
func (pc *PaymentController) enforceRateLimit(c *fiber.Ctx, endpoint string) error {
	if pc.guard == nil {
		return nil
	}
	subject := usercontext.GetUserContext(c).Username
	if subject == "" {
		ipv4, ipv6 := GetClientIP(c)
		subject = ipv4
		if subject == "" {
			subject = ipv6
		}
	}
	decision := pc.guard.Allow(c.UserContext(), subject, endpoint)
	if decision.Allowed {
		return nil
	}
	c.Set("Retry-After", decision.RetryAfter.Round(time.Second).String())
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
		"error":   "rate_limited",
		"message": "too many requests, slow down",
	})
}

// scoreVerification runs the risk scorer over the confirmation attempt.
func (pc *PaymentController) scoreVerification(c *fiber.Ctx, userID uint, sigValid bool) (float64, []string) {
	ipv4, ipv6 := GetClientIP(c)
	ip := ipv4
	if ip == "" {
		ip = ipv6
	}

	accountAge := time.Duration(0)
	if user, err := pc.users.GetByID(userID); err == nil {
		accountAge = user.AccountAge(time.Now())
	}

	return pc.scorer.Score(c.UserContext(), risk.Input{
		IPAddress:        ip,
		UserAgent:        c.Get("User-Agent"),
		UserID:           userID,
		SignaturePresent: true,
		SignatureValid:   sigValid,
		AccountAge:       accountAge,
	})
}
