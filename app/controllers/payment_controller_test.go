package controllers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/constants"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/payments"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/risk"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/usercontext"
)

const (
	testConfirmSecret = "test_key_secret"
	testHookSecret    = "test_webhook_secret"
	testUserID        = uint(7)
)

// paymentTestEnv hosts the payment handlers on a fiber app backed entirely by
// in-memory fakes, with a stub auth middleware standing in for API key auth.
type paymentTestEnv struct {
	app     *fiber.App
	orders  *handlerOrderRepo
	subs    *handlerSubscriptionRepo
	events  *handlerEventRepo
	gateway *handlerGateway

	// authed controls whether the stub middleware attaches a user context.
	authed bool
}

func newPaymentTestEnv(seedOrders ...*models.PaymentOrder) *paymentTestEnv {
	env := &paymentTestEnv{
		orders:  newHandlerOrderRepo(seedOrders...),
		subs:    newHandlerSubscriptionRepo(),
		events:  newHandlerEventRepo(),
		gateway: newHandlerGateway(),
		authed:  true,
	}

	users := newHandlerUserRepo(&models.User{
		ID:        testUserID,
		Name:      "Maya Iyer",
		Email:     "maya@example.com",
		Status:    models.STATUS_ACTIVE,
		CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
	})
	secEvents := &handlerSecurityEventRepo{}

	lifecycle := payments.NewLifecycle(env.subs, users, nil)
	fsm := payments.NewStateMachine(env.orders, lifecycle, nil)
	issuer := payments.NewIssuer(env.orders, env.gateway)
	scorer := risk.NewScorer(secEvents)
	ingestor := payments.NewIngestor(env.events, env.orders, env.gateway, fsm, scorer, testHookSecret)

	pc := NewPaymentController(issuer, fsm, ingestor, scorer, nil, &repository.Repositories{
		User:          users,
		Order:         env.orders,
		WebhookEvent:  env.events,
		Subscription:  env.subs,
		SecurityEvent: secEvents,
	}, testConfirmSecret)

	app := fiber.New()
	auth := func(c *fiber.Ctx) error {
		if env.authed {
			c.Locals("USER_CONTEXT", usercontext.UserContext{
				UserID:     testUserID,
				Username:   "maya",
				IsLoggedIn: true,
			})
		}
		return c.Next()
	}
	app.Post(constants.PaymentOrdersRoute, auth, pc.HandleCreateOrder)
	app.Post(constants.PaymentVerifyRoute, auth, pc.HandleVerifyPayment)
	app.Get(constants.SubscriptionRoute, auth, pc.HandleGetSubscription)
	app.Post(constants.PaymentWebhookRoute, pc.HandleWebhook)
	env.app = app
	return env
}

func (e *paymentTestEnv) postJSON(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "oryn-checkout/1.0")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func (e *paymentTestEnv) postWebhook(t *testing.T, body []byte, eventID, signature string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, constants.PaymentWebhookRoute, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gateway-webhook/1.0")
	req.Header.Set("X-Razorpay-Event-Id", eventID)
	req.Header.Set("X-Razorpay-Signature", signature)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func hmacHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func confirmSignature(orderID, paymentID, secret string) string {
	return hmacHex([]byte(orderID+"|"+paymentID), secret)
}

func captureEventBody(orderID, paymentID string) []byte {
	return []byte(fmt.Sprintf(
		`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":99900,"currency":"INR"}}}}`,
		paymentID, orderID))
}

func createdOrder(orderID string) *models.PaymentOrder {
	return &models.PaymentOrder{
		OrderID:  orderID,
		UserID:   testUserID,
		Plan:     "pro",
		Amount:   99900,
		Currency: "INR",
		Status:   models.OrderStatusCreated,
	}
}

func TestHandleCreateOrder(t *testing.T) {
	env := newPaymentTestEnv()

	resp := env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "pro"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["order_id"])
	assert.Equal(t, "pro", body["plan"])
	assert.Equal(t, float64(99900), body["amount"])
	assert.Equal(t, "INR", body["currency"])
	assert.NotEmpty(t, body["receipt"])

	order, err := env.orders.GetByOrderID(body["order_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Equal(t, testUserID, order.UserID)
}

func TestHandleCreateOrderSecondWhileOutstanding(t *testing.T) {
	env := newPaymentTestEnv()

	resp := env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "pro"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "max"})
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)
	assert.Equal(t, "order_pending", decodeBody(t, resp)["error"])
	assert.Equal(t, 1, env.gateway.orderCount)
}

func TestHandleCreateOrderRejectsUnknownPlan(t *testing.T) {
	env := newPaymentTestEnv()

	resp := env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "enterprise"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_plan", decodeBody(t, resp)["error"])
	assert.Equal(t, 0, env.gateway.orderCount)
}

func TestHandleCreateOrderGatewayDown(t *testing.T) {
	env := newPaymentTestEnv()
	env.gateway.createErr = payments.ErrGatewayUnavailable

	resp := env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "pro"})
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "gateway_unavailable", decodeBody(t, resp)["error"])
}

func TestHandleCreateOrderUnauthorized(t *testing.T) {
	env := newPaymentTestEnv()
	env.authed = false

	resp := env.postJSON(t, constants.PaymentOrdersRoute, fiber.Map{"plan": "pro"})
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestHandleVerifyPayment(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	resp := env.postJSON(t, constants.PaymentVerifyRoute, fiber.Map{
		"order_id":   "order_h1",
		"payment_id": "pay_h1",
		"signature":  confirmSignature("order_h1", "pay_h1", testConfirmSecret),
	})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, "order_h1", body["order_id"])
	assert.Equal(t, "pro", body["plan"])

	order, err := env.orders.GetByOrderID("order_h1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)
	assert.Equal(t, "pay_h1", order.PaymentID)

	sub, err := env.subs.GetByUserID(testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, "order_h1", sub.SourceOrderID)
}

func TestHandleVerifyPaymentWrongSecretSignature(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	// Correctly formed hex HMAC, computed under the wrong key.
	resp := env.postJSON(t, constants.PaymentVerifyRoute, fiber.Map{
		"order_id":   "order_h1",
		"payment_id": "pay_h1",
		"signature":  confirmSignature("order_h1", "pay_h1", "not_the_key_secret"),
	})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", decodeBody(t, resp)["error"])

	order, err := env.orders.GetByOrderID("order_h1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
	assert.Empty(t, order.PaymentID)

	_, err = env.subs.GetByUserID(testUserID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestHandleVerifyPaymentRepeatIsAlreadyProcessed(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	payload := fiber.Map{
		"order_id":   "order_h1",
		"payment_id": "pay_h1",
		"signature":  confirmSignature("order_h1", "pay_h1", testConfirmSecret),
	}
	resp := env.postJSON(t, constants.PaymentVerifyRoute, payload)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.postJSON(t, constants.PaymentVerifyRoute, payload)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "already_processed", decodeBody(t, resp)["status"])
	assert.Equal(t, 1, env.subs.upsertHits)
}

func TestHandleVerifyPaymentForeignOrderIsNotFound(t *testing.T) {
	order := createdOrder("order_h1")
	order.UserID = 42
	env := newPaymentTestEnv(order)

	resp := env.postJSON(t, constants.PaymentVerifyRoute, fiber.Map{
		"order_id":   "order_h1",
		"payment_id": "pay_h1",
		"signature":  confirmSignature("order_h1", "pay_h1", testConfirmSecret),
	})
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "order_not_found", decodeBody(t, resp)["error"])
}

func TestHandleVerifyPaymentMissingFields(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	resp := env.postJSON(t, constants.PaymentVerifyRoute, fiber.Map{"order_id": "order_h1"})
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing_fields", decodeBody(t, resp)["error"])
}

func TestHandleWebhook(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	body := captureEventBody("order_h1", "pay_h1")
	resp := env.postWebhook(t, body, "evt_1", hmacHex(body, testHookSecret))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["received"])

	order, err := env.orders.GetByOrderID("order_h1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	sub, err := env.subs.GetByUserID(testUserID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	body := captureEventBody("order_h1", "pay_h1")
	resp := env.postWebhook(t, body, "evt_1", hmacHex(body, "wrong_webhook_secret"))
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_signature", decodeBody(t, resp)["error"])

	order, err := env.orders.GetByOrderID("order_h1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCreated, order.Status)
}

func TestHandleWebhookRedeliveryIsDuplicate(t *testing.T) {
	env := newPaymentTestEnv(createdOrder("order_h1"))

	body := captureEventBody("order_h1", "pay_h1")
	sig := hmacHex(body, testHookSecret)

	resp := env.postWebhook(t, body, "evt_1", sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = env.postWebhook(t, body, "evt_1", sig)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["duplicate"])
	assert.Equal(t, 1, env.subs.upsertHits)
}

func TestHandleGetSubscription(t *testing.T) {
	env := newPaymentTestEnv()

	req := httptest.NewRequest(http.MethodGet, constants.SubscriptionRoute, nil)
	resp, err := env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "free", body["plan"])
	assert.Equal(t, "none", body["status"])

	now := time.Now()
	require.NoError(t, env.subs.Upsert(&models.Subscription{
		UserID:        testUserID,
		Plan:          "pro",
		Status:        models.SubscriptionStatusActive,
		StartDate:     now,
		EndDate:       now.Add(30 * 24 * time.Hour),
		SourceOrderID: "order_h1",
	}))

	req = httptest.NewRequest(http.MethodGet, constants.SubscriptionRoute, nil)
	resp, err = env.app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "pro", body["plan"])
	assert.Equal(t, models.SubscriptionStatusActive, body["status"])
}

// --- fakes -----------------------------------------------------------------

type handlerOrderRepo struct {
	orders map[string]*models.PaymentOrder

	createErr error
}

func newHandlerOrderRepo(orders ...*models.PaymentOrder) *handlerOrderRepo {
	repo := &handlerOrderRepo{orders: make(map[string]*models.PaymentOrder)}
	for _, o := range orders {
		cp := *o
		repo.orders[o.OrderID] = &cp
	}
	return repo
}

func (r *handlerOrderRepo) Create(order *models.PaymentOrder) error {
	if r.createErr != nil {
		return r.createErr
	}
	if _, exists := r.orders[order.OrderID]; exists {
		return fmt.Errorf("duplicate order id %s", order.OrderID)
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	cp := *order
	r.orders[order.OrderID] = &cp
	return nil
}

func (r *handlerOrderRepo) GetByOrderID(orderID string) (*models.PaymentOrder, error) {
	order, ok := r.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *handlerOrderRepo) HasOutstanding(userID uint) (bool, error) {
	for _, o := range r.orders {
		if o.UserID != userID {
			continue
		}
		for _, status := range models.OutstandingOrderStatuses() {
			if o.Status == status {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *handlerOrderRepo) UpdateStatusIf(orderID, expected, target string, changes map[string]interface{}) (bool, error) {
	order, ok := r.orders[orderID]
	if !ok || order.Status != expected {
		return false, nil
	}
	order.Status = target
	if v, ok := changes["payment_id"].(string); ok {
		order.PaymentID = v
	}
	if v, ok := changes["paid_at"].(*time.Time); ok {
		order.PaidAt = v
	}
	if v, ok := changes["failed_at"].(*time.Time); ok {
		order.FailedAt = v
	}
	return true, nil
}

func (r *handlerOrderRepo) ListStale(statuses []string, olderThan time.Time, limit int) ([]models.PaymentOrder, error) {
	return nil, nil
}

type handlerSubscriptionRepo struct {
	byUser     map[uint]*models.Subscription
	upsertHits int
}

func newHandlerSubscriptionRepo() *handlerSubscriptionRepo {
	return &handlerSubscriptionRepo{byUser: make(map[uint]*models.Subscription)}
}

func (r *handlerSubscriptionRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	sub, ok := r.byUser[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *handlerSubscriptionRepo) GetBySourceOrderID(orderID string) (*models.Subscription, error) {
	for _, sub := range r.byUser {
		if sub.SourceOrderID == orderID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *handlerSubscriptionRepo) Upsert(sub *models.Subscription) error {
	r.upsertHits++
	cp := *sub
	r.byUser[sub.UserID] = &cp
	return nil
}

func (r *handlerSubscriptionRepo) ExpireDue(now time.Time) ([]models.Subscription, error) {
	return nil, nil
}

type handlerUserRepo struct {
	users    map[uint]*models.User
	settings map[uint]*models.UserSettings
}

func newHandlerUserRepo(users ...*models.User) *handlerUserRepo {
	repo := &handlerUserRepo{
		users:    make(map[uint]*models.User),
		settings: make(map[uint]*models.UserSettings),
	}
	for _, u := range users {
		cp := *u
		repo.users[u.ID] = &cp
	}
	return repo
}

func (r *handlerUserRepo) Create(user *models.User) error {
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *handlerUserRepo) GetByID(id uint) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *handlerUserRepo) GetByEmail(email string) (*models.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *handlerUserRepo) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *handlerUserRepo) GetOrCreateSettings(userID uint) (*models.UserSettings, error) {
	if settings, ok := r.settings[userID]; ok {
		cp := *settings
		return &cp, nil
	}
	settings := &models.UserSettings{UserID: userID, Plan: "free"}
	r.settings[userID] = settings
	cp := *settings
	return &cp, nil
}

func (r *handlerUserRepo) SaveSettings(us *models.UserSettings) error {
	cp := *us
	r.settings[us.UserID] = &cp
	return nil
}

type handlerEventRepo struct {
	nextID uint
	byID   map[uint]*models.WebhookEvent
}

func newHandlerEventRepo() *handlerEventRepo {
	return &handlerEventRepo{byID: make(map[uint]*models.WebhookEvent)}
}

func (r *handlerEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	for _, stored := range r.byID {
		if stored.EventID == event.EventID {
			cp := *stored
			return false, &cp, nil
		}
	}
	r.nextID++
	cp := *event
	cp.ID = r.nextID
	cp.ReceivedAt = time.Now()
	r.byID[cp.ID] = &cp
	out := cp
	return true, &out, nil
}

func (r *handlerEventRepo) MarkOutcome(id uint, outcome string, processingError string) error {
	stored, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	stored.Outcome = outcome
	stored.ProcessingError = processingError
	stored.ProcessedAt = &now
	return nil
}

func (r *handlerEventRepo) UpdateVerifiedPayload(id uint, eventType, payloadJSON string) error {
	stored, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.EventType = eventType
	stored.PayloadJSON = payloadJSON
	stored.SignatureValid = true
	return nil
}

func (r *handlerEventRepo) ListUnresolved(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	return nil, nil
}

type handlerSecurityEventRepo struct {
	events []*models.SecurityEvent
}

func (r *handlerSecurityEventRepo) Create(event *models.SecurityEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, event)
	return nil
}

func (r *handlerSecurityEventRepo) CountRecentByIP(ip string, since time.Time) (int64, error) {
	var count int64
	for _, e := range r.events {
		if e.IPAddress == ip && !e.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

type handlerGateway struct {
	createErr  error
	orders     map[string]*payments.GatewayOrder
	orderCount int
}

func newHandlerGateway() *handlerGateway {
	return &handlerGateway{orders: make(map[string]*payments.GatewayOrder)}
}

func (g *handlerGateway) CreateOrder(ctx context.Context, req payments.GatewayOrderRequest) (*payments.GatewayOrder, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orderCount++
	order := &payments.GatewayOrder{
		ID:       fmt.Sprintf("order_http%03d", g.orderCount),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    req.Notes,
	}
	g.orders[order.ID] = order
	return order, nil
}

func (g *handlerGateway) FetchOrder(ctx context.Context, orderID string) (*payments.GatewayOrder, error) {
	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s not found", payments.ErrGatewayUnavailable, orderID)
	}
	cp := *order
	return &cp, nil
}
