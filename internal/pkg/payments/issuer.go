package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/entitlements"
)

// Issuer creates payment orders with the gateway and the matching local
// record. The one-outstanding-order-per-user invariant is enforced here.
type Issuer struct {
	orders  repository.OrderRepository
	gateway Gateway
}

// NewIssuer wires the order issuer with its collaborators.
func NewIssuer(orders repository.OrderRepository, gateway Gateway) *Issuer {
	return &Issuer{orders: orders, gateway: gateway}
}

// CreateOrder issues a new payment order for the requested plan. Amount and
// currency come from the plan catalog, never from the client. The gateway is
// called before any local write so a gateway failure leaves no orphaned row;
// the inverse failure (gateway ok, persist failed) is recoverable because the
// user id and plan travel in the gateway order notes and the webhook ingestor
// rebuilds the row from them.
func (i *Issuer) CreateOrder(ctx context.Context, userID uint, plan string) (*models.PaymentOrder, error) {
	if userID == 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	normalized := entitlements.Normalize(plan)
	price, ok := entitlements.Price(normalized)
	if !ok {
		return nil, fmt.Errorf("%w: plan %q is not purchasable", ErrValidation, strings.TrimSpace(plan))
	}

	outstanding, err := i.orders.HasOutstanding(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: outstanding order check for user %d: %v", ErrPersistence, userID, err)
	}
	if outstanding {
		return nil, ErrAlreadyPending
	}

	receipt := "rcpt_" + uuid.NewString()
	gatewayOrder, err := i.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   price.Amount,
		Currency: price.Currency,
		Receipt:  receipt,
		Notes: map[string]string{
			"user_id": fmt.Sprintf("%d", userID),
			"plan":    string(normalized),
		},
	})
	if err != nil {
		return nil, err
	}

	order := &models.PaymentOrder{
		OrderID:  gatewayOrder.ID,
		UserID:   userID,
		Plan:     string(normalized),
		Amount:   price.Amount,
		Currency: price.Currency,
		Receipt:  receipt,
		Status:   models.OrderStatusCreated,
	}
	if err := i.orders.Create(order); err != nil {
		// The gateway order exists without a local row; the webhook ingestor
		// adopts it from the gateway notes when its capture event arrives.
		log.Errorf("[Issuer] gateway order %s created but local persist failed (user %d, receipt %s): %v",
			gatewayOrder.ID, userID, receipt, err)
		return nil, fmt.Errorf("%w: persisting order %s: %v", ErrPersistence, gatewayOrder.ID, err)
	}

	log.Infof("[Issuer] order %s created for user %d (plan %s, %d %s)",
		order.OrderID, userID, normalized, price.Amount, price.Currency)
	return order, nil
}
