package payments

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2/log"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
)

// Outcome is what an ingest attempt amounted to.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeErrored   Outcome = "errored"
)

// WebhookMeta carries request-scoped context for an inbound webhook.
type WebhookMeta struct {
	EventID   string
	Signature string
	IPAddress string
	UserAgent string
}

// SignalRecorder captures security signals produced while verifying inbound
// claims. Implemented by the risk scorer.
type SignalRecorder interface {
	RecordInvalidSignature(ctx context.Context, ip, userAgent string, userID uint)
}

// Ingestor receives, deduplicates and dispatches gateway webhook events.
type Ingestor struct {
	events  repository.WebhookEventRepository
	orders  repository.OrderRepository
	gateway Gateway
	fsm     *StateMachine
	signals SignalRecorder
	secret  string
}

// NewIngestor wires the webhook ingestor. secret is the webhook signing
// secret shared with the gateway. orders and gateway serve orphan adoption:
// recreating the local row for a gateway order whose persist failed after
// gateway creation.
func NewIngestor(events repository.WebhookEventRepository, orders repository.OrderRepository, gateway Gateway, fsm *StateMachine, signals SignalRecorder, secret string) *Ingestor {
	return &Ingestor{events: events, orders: orders, gateway: gateway, fsm: fsm, signals: signals, secret: secret}
}

// Ingest processes one webhook delivery. The signature is checked over the
// raw body before anything else; unverified input never reaches business
// logic. Redelivered event ids short-circuit as duplicates. The event row is
// persisted with a pending outcome before dispatch so a crash in between is
// visible to the reconciliation sweep.
func (in *Ingestor) Ingest(ctx context.Context, rawBody []byte, meta WebhookMeta) (Outcome, error) {
	eventID := strings.TrimSpace(meta.EventID)
	if eventID == "" {
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	if !VerifyWebhookSignature(rawBody, meta.Signature, in.secret) {
		if in.signals != nil {
			in.signals.RecordInvalidSignature(ctx, meta.IPAddress, meta.UserAgent, 0)
		}
		rejected := &models.WebhookEvent{
			EventID:        eventID,
			PayloadJSON:    string(rawBody),
			SignatureValid: false,
			Outcome:        models.WebhookOutcomeRejected,
		}
		if _, _, err := in.events.CreateIfNotExists(rejected); err != nil {
			log.Errorf("[Ingestor] persisting rejected event %s failed: %v", eventID, err)
		}
		return OutcomeRejected, ErrSignature
	}

	event, err := ParseEvent(rawBody)
	if err != nil {
		return OutcomeRejected, err
	}

	row := &models.WebhookEvent{
		EventID:        eventID,
		EventType:      event.EventType(),
		PayloadJSON:    string(rawBody),
		SignatureValid: true,
		Outcome:        models.WebhookOutcomePending,
	}
	created, stored, err := in.events.CreateIfNotExists(row)
	if err != nil {
		return OutcomeErrored, fmt.Errorf("%w: persisting webhook event %s: %v", ErrPersistence, eventID, err)
	}
	if !created && stored.Outcome == models.WebhookOutcomeApplied {
		// Redelivery of an event that already ran to completion. Pending,
		// errored and rejected rows are reprocessed instead: redelivery is the
		// gateway's recovery path for exactly those.
		return OutcomeDuplicate, nil
	}
	if !created && !stored.SignatureValid {
		// The stored row came from a rejected delivery under the same event id.
		// This delivery verified, so replace the unverified bytes before the
		// row can be marked applied.
		if err := in.events.UpdateVerifiedPayload(stored.ID, event.EventType(), string(rawBody)); err != nil {
			return OutcomeErrored, fmt.Errorf("%w: refreshing event %s payload: %v", ErrPersistence, eventID, err)
		}
	}

	if err := in.dispatch(ctx, event); err != nil {
		if markErr := in.events.MarkOutcome(stored.ID, models.WebhookOutcomeErrored, err.Error()); markErr != nil {
			log.Errorf("[Ingestor] marking event %s errored failed: %v", eventID, markErr)
		}
		// A non-2xx response makes the gateway redeliver; that retry loop is
		// the recovery mechanism here.
		return OutcomeErrored, err
	}

	if err := in.events.MarkOutcome(stored.ID, models.WebhookOutcomeApplied, ""); err != nil {
		log.Errorf("[Ingestor] marking event %s applied failed: %v", eventID, err)
	}
	return OutcomeApplied, nil
}

// Replay re-runs dispatch for a previously persisted event whose outcome
// never settled, typically because the process died between persisting the
// row and finishing the transition. The stored payload was signature-checked
// on first receipt, so it is trusted here.
func (in *Ingestor) Replay(ctx context.Context, stored *models.WebhookEvent) error {
	if stored.Outcome == models.WebhookOutcomeApplied || stored.Outcome == models.WebhookOutcomeDuplicate {
		return nil
	}
	if !stored.SignatureValid {
		return fmt.Errorf("%w: event %s was rejected on receipt", ErrSignature, stored.EventID)
	}

	event, err := ParseEvent([]byte(stored.PayloadJSON))
	if err != nil {
		return err
	}
	if err := in.dispatch(ctx, event); err != nil {
		if markErr := in.events.MarkOutcome(stored.ID, models.WebhookOutcomeErrored, err.Error()); markErr != nil {
			log.Errorf("[Ingestor] marking replayed event %s errored failed: %v", stored.EventID, markErr)
		}
		return err
	}
	return in.events.MarkOutcome(stored.ID, models.WebhookOutcomeApplied, "")
}

// dispatch routes a parsed event into the state machine. Handlers are
// idempotent because event-id dedupe cannot catch the same business fact
// arriving through a different channel.
func (in *Ingestor) dispatch(ctx context.Context, event Event) error {
	switch ev := event.(type) {
	case PaymentCaptured:
		return in.applyOrderTransition(ctx, ev.OrderID, models.OrderStatusPaid, Evidence{
			Source:    "webhook",
			PaymentID: ev.PaymentID,
		})
	case OrderPaid:
		return in.applyOrderTransition(ctx, ev.OrderID, models.OrderStatusPaid, Evidence{
			Source: "webhook",
		})
	case PaymentFailed:
		return in.applyOrderTransition(ctx, ev.OrderID, models.OrderStatusFailed, Evidence{
			Source:    "webhook",
			PaymentID: ev.PaymentID,
			Note:      ev.Reason,
		})
	case UnknownEvent:
		// Persisted for forward compatibility, never dispatched.
		log.Infof("[Ingestor] ignoring unhandled event type %q", ev.Type)
		return nil
	default:
		return nil
	}
}

func (in *Ingestor) applyOrderTransition(ctx context.Context, orderID, target string, ev Evidence) error {
	result, _, err := in.fsm.ApplyTransition(ctx, orderID, target, ev)
	if errors.Is(err, ErrOrderNotFound) {
		// The gateway knows an order we never persisted: the issuer's local
		// write failed after gateway creation. Rebuild the row from the
		// gateway and run the transition again.
		adopted, adoptErr := in.adoptOrphanOrder(ctx, orderID)
		if adoptErr != nil {
			return adoptErr
		}
		if !adopted {
			// Not one of ours; acknowledge so the gateway stops redelivering.
			log.Warnf("[Ingestor] ignoring event for unknown order %s without adoption notes", orderID)
			return nil
		}
		result, _, err = in.fsm.ApplyTransition(ctx, orderID, target, ev)
	}
	if err != nil {
		return err
	}
	// NoOp is the benign half of the client/webhook race; Conflict has
	// already been surfaced to the operator log by the state machine and
	// redelivering the event cannot resolve it.
	_ = result
	return nil
}

// adoptOrphanOrder recreates the local row for a gateway order that has none.
// user id and plan travel in the gateway order notes, set at creation time by
// the issuer. Returns false when the order carries no such notes.
func (in *Ingestor) adoptOrphanOrder(ctx context.Context, orderID string) (bool, error) {
	if in.orders == nil || in.gateway == nil {
		return false, nil
	}
	remote, err := in.gateway.FetchOrder(ctx, orderID)
	if err != nil {
		// Gateway unreachable; the errored outcome makes redelivery retry.
		return false, err
	}

	userID, perr := strconv.ParseUint(remote.Notes["user_id"], 10, 64)
	plan := remote.Notes["plan"]
	if perr != nil || userID == 0 || plan == "" {
		return false, nil
	}

	order := &models.PaymentOrder{
		OrderID:  remote.ID,
		UserID:   uint(userID),
		Plan:     plan,
		Amount:   remote.Amount,
		Currency: remote.Currency,
		Receipt:  remote.Receipt,
		Status:   models.OrderStatusCreated,
	}
	if err := in.orders.Create(order); err != nil {
		return false, fmt.Errorf("%w: adopting orphaned order %s: %v", ErrPersistence, orderID, err)
	}
	log.Infof("[Ingestor] adopted orphaned gateway order %s for user %d (plan %s)", orderID, userID, plan)
	return true, nil
}
