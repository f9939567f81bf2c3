package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
)

// fakeOrderRepo is an in-memory OrderRepository whose UpdateStatusIf applies
// the same compare-and-set semantics as the SQL implementation.
type fakeOrderRepo struct {
	mu     sync.Mutex
	orders map[string]*models.PaymentOrder

	createErr error
	updateErr error
	getErr    error
}

func newFakeOrderRepo(orders ...*models.PaymentOrder) *fakeOrderRepo {
	repo := &fakeOrderRepo{orders: make(map[string]*models.PaymentOrder)}
	for _, o := range orders {
		cp := *o
		repo.orders[o.OrderID] = &cp
	}
	return repo
}

func (r *fakeOrderRepo) Create(order *models.PaymentOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *fakeOrderRepo) GetByOrderID(orderID string) (*models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	order, ok := r.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *order
	return &cp, nil
}

func (r *fakeOrderRepo) HasOutstanding(userID uint) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *fakeOrderRepo) UpdateStatusIf(orderID, expected, target string, changes map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return false, r.updateErr
	}
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

func (r *fakeOrderRepo) ListStale(statuses []string, olderThan time.Time, limit int) ([]models.PaymentOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []models.PaymentOrder
	for _, o := range r.orders {
		if len(stale) >= limit {
			break
		}
		if !o.CreatedAt.Before(olderThan) {
			continue
		}
		for _, status := range statuses {
			if o.Status == status {
				stale = append(stale, *o)
				break
			}
		}
	}
	return stale, nil
}

// fakeSubscriptionRepo implements SubscriptionRepository with user-keyed
// upsert semantics.
type fakeSubscriptionRepo struct {
	mu     sync.Mutex
	byUser map[uint]*models.Subscription

	upsertErr  error
	upsertHits int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byUser: make(map[uint]*models.Subscription)}
}

func (r *fakeSubscriptionRepo) GetByUserID(userID uint) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.byUser[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *fakeSubscriptionRepo) GetBySourceOrderID(orderID string) (*models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.byUser {
		if sub.SourceOrderID == orderID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSubscriptionRepo) Upsert(sub *models.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upsertHits++
	cp := *sub
	r.byUser[sub.UserID] = &cp
	return nil
}

func (r *fakeSubscriptionRepo) ExpireDue(now time.Time) ([]models.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []models.Subscription
	for _, sub := range r.byUser {
		if sub.Status == models.SubscriptionStatusActive && !now.Before(sub.EndDate) {
			sub.Status = models.SubscriptionStatusExpired
			expired = append(expired, *sub)
		}
	}
	return expired, nil
}

// fakeUserRepo covers the settings lookups the lifecycle needs.
type fakeUserRepo struct {
	mu       sync.Mutex
	users    map[uint]*models.User
	settings map[uint]*models.UserSettings
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{
		users:    make(map[uint]*models.User),
		settings: make(map[uint]*models.UserSettings),
	}
	for _, u := range users {
		cp := *u
		repo.users[u.ID] = &cp
	}
	return repo
}

func (r *fakeUserRepo) Create(user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *fakeUserRepo) GetByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			cp := *user
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetByAPIKeyHash(hash string) (*models.User, *models.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, settings := range r.settings {
		if settings.APIKeyHash == hash {
			user, ok := r.users[userID]
			if !ok {
				return nil, nil, gorm.ErrRecordNotFound
			}
			ucp := *user
			scp := *settings
			return &ucp, &scp, nil
		}
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (r *fakeUserRepo) GetOrCreateSettings(userID uint) (*models.UserSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if settings, ok := r.settings[userID]; ok {
		cp := *settings
		return &cp, nil
	}
	settings := &models.UserSettings{UserID: userID, Plan: "free"}
	r.settings[userID] = settings
	cp := *settings
	return &cp, nil
}

func (r *fakeUserRepo) SaveSettings(us *models.UserSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *us
	r.settings[us.UserID] = &cp
	return nil
}

// fakeEventRepo implements WebhookEventRepository with event-id dedupe.
type fakeEventRepo struct {
	mu     sync.Mutex
	nextID uint
	byID   map[uint]*models.WebhookEvent

	createErr error
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{byID: make(map[uint]*models.WebhookEvent)}
}

func (r *fakeEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return false, nil, r.createErr
	}
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

func (r *fakeEventRepo) MarkOutcome(id uint, outcome string, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *fakeEventRepo) UpdateVerifiedPayload(id uint, eventType, payloadJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byID[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	stored.EventType = eventType
	stored.PayloadJSON = payloadJSON
	stored.SignatureValid = true
	return nil
}

func (r *fakeEventRepo) ListUnresolved(olderThan time.Time, limit int) ([]models.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var unresolved []models.WebhookEvent
	for _, stored := range r.byID {
		if len(unresolved) >= limit {
			break
		}
		if stored.Outcome == models.WebhookOutcomePending || stored.Outcome == models.WebhookOutcomeErrored {
			if stored.ReceivedAt.Before(olderThan) {
				unresolved = append(unresolved, *stored)
			}
		}
	}
	return unresolved, nil
}

func (r *fakeEventRepo) get(eventID string) *models.WebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stored := range r.byID {
		if stored.EventID == eventID {
			cp := *stored
			return &cp
		}
	}
	return nil
}

// fakeGateway scripts gateway responses.
type fakeGateway struct {
	mu         sync.Mutex
	createErr  error
	fetchErr   error
	orders     map[string]*GatewayOrder
	orderCount int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{orders: make(map[string]*GatewayOrder)}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.orderCount++
	order := &GatewayOrder{
		ID:       fmt.Sprintf("order_fake%03d", g.orderCount),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   "created",
		Notes:    req.Notes,
	}
	g.orders[order.ID] = order
	return order, nil
}

func (g *fakeGateway) FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	order, ok := g.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s not found", ErrGatewayUnavailable, orderID)
	}
	cp := *order
	return &cp, nil
}
