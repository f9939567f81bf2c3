package payments

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Gateway webhook event types the ingestor dispatches on. Anything else is
// persisted as UnknownEvent and never dispatched, so new gateway event types
// cannot break ingestion.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
	EventOrderPaid       = "order.paid"
)

// Event is the tagged union over known gateway webhook payloads.
type Event interface {
	EventType() string
}

// PaymentCaptured reports a successfully captured payment for an order.
type PaymentCaptured struct {
	PaymentID string
	OrderID   string
	Amount    int64
	Currency  string
}

func (PaymentCaptured) EventType() string { return EventPaymentCaptured }

// PaymentFailed reports a failed payment attempt for an order.
type PaymentFailed struct {
	PaymentID string
	OrderID   string
	Reason    string
}

func (PaymentFailed) EventType() string { return EventPaymentFailed }

// OrderPaid reports that the gateway considers the order fully paid.
type OrderPaid struct {
	OrderID string
	Amount  int64
}

func (OrderPaid) EventType() string { return EventOrderPaid }

// UnknownEvent carries an event type the engine does not handle.
type UnknownEvent struct {
	Type string
}

func (e UnknownEvent) EventType() string { return e.Type }

// webhookEnvelope mirrors the gateway's wire shape of webhook bodies.
type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID               string `json:"id"`
				OrderID          string `json:"order_id"`
				Amount           int64  `json:"amount"`
				Currency         string `json:"currency"`
				ErrorDescription string `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
		Order struct {
			Entity struct {
				ID         string `json:"id"`
				AmountPaid int64  `json:"amount_paid"`
			} `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// ParseEvent decodes a raw webhook body into the event union.
func ParseEvent(rawBody []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(rawBody, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed webhook body: %v", ErrValidation, err)
	}

	eventType := strings.TrimSpace(env.Event)
	if eventType == "" {
		return nil, fmt.Errorf("%w: webhook body missing event type", ErrValidation)
	}

	switch eventType {
	case EventPaymentCaptured:
		p := env.Payload.Payment.Entity
		if p.ID == "" || p.OrderID == "" {
			return nil, fmt.Errorf("%w: payment.captured missing payment or order id", ErrValidation)
		}
		return PaymentCaptured{PaymentID: p.ID, OrderID: p.OrderID, Amount: p.Amount, Currency: p.Currency}, nil
	case EventPaymentFailed:
		p := env.Payload.Payment.Entity
		if p.OrderID == "" {
			return nil, fmt.Errorf("%w: payment.failed missing order id", ErrValidation)
		}
		return PaymentFailed{PaymentID: p.ID, OrderID: p.OrderID, Reason: p.ErrorDescription}, nil
	case EventOrderPaid:
		o := env.Payload.Order.Entity
		if o.ID == "" {
			return nil, fmt.Errorf("%w: order.paid missing order id", ErrValidation)
		}
		return OrderPaid{OrderID: o.ID, Amount: o.AmountPaid}, nil
	default:
		return UnknownEvent{Type: eventType}, nil
	}
}
