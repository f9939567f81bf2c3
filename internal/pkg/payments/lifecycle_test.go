package payments

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
)

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestActivateForNewSubscription(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	users := newFakeUserRepo()
	lifecycle := NewLifecycle(subs, users, fixedNow)

	sub, err := lifecycle.ActivateFor(context.Background(), &models.PaymentOrder{
		OrderID: "order_1", UserID: 7, Plan: "pro", Status: models.OrderStatusPaid,
	})
	require.NoError(t, err)

	assert.Equal(t, "pro", sub.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, fixedNow(), sub.StartDate)
	assert.Equal(t, fixedNow().Add(30*24*time.Hour), sub.EndDate)

	settings, err := users.GetOrCreateSettings(7)
	require.NoError(t, err)
	assert.Equal(t, "pro", settings.Plan)
}

// Renewing while 10 days remain on the current period yields roughly 40 days
// of total entitlement, never a reset to 30.
func TestActivateForStacksRemainingTime(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	lifecycle := NewLifecycle(subs, newFakeUserRepo(), fixedNow)

	currentEnd := fixedNow().Add(10 * 24 * time.Hour)
	require.NoError(t, subs.Upsert(&models.Subscription{
		UserID: 7, Plan: "pro", Status: models.SubscriptionStatusActive,
		StartDate: fixedNow().Add(-20 * 24 * time.Hour), EndDate: currentEnd,
		SourceOrderID: "order_old",
	}))

	sub, err := lifecycle.ActivateFor(context.Background(), &models.PaymentOrder{
		OrderID: "order_new", UserID: 7, Plan: "pro", Status: models.OrderStatusPaid,
	})
	require.NoError(t, err)

	assert.Equal(t, currentEnd.Add(30*24*time.Hour), sub.EndDate)
	assert.Equal(t, fixedNow().Add(40*24*time.Hour), sub.EndDate)
	assert.Equal(t, "order_new", sub.SourceOrderID)
}

// A lapsed subscription does not stack; the new period starts now.
func TestActivateForLapsedSubscriptionStartsFresh(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	lifecycle := NewLifecycle(subs, newFakeUserRepo(), fixedNow)

	require.NoError(t, subs.Upsert(&models.Subscription{
		UserID: 7, Plan: "pro", Status: models.SubscriptionStatusActive,
		StartDate:     fixedNow().Add(-60 * 24 * time.Hour),
		EndDate:       fixedNow().Add(-30 * 24 * time.Hour),
		SourceOrderID: "order_old",
	}))

	sub, err := lifecycle.ActivateFor(context.Background(), &models.PaymentOrder{
		OrderID: "order_new", UserID: 7, Plan: "pro", Status: models.OrderStatusPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, fixedNow().Add(30*24*time.Hour), sub.EndDate)
}

// Activating twice from the same source order must not extend the period
// again.
func TestActivateForIdempotentPerSourceOrder(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	lifecycle := NewLifecycle(subs, newFakeUserRepo(), fixedNow)

	order := &models.PaymentOrder{OrderID: "order_1", UserID: 7, Plan: "pro", Status: models.OrderStatusPaid}

	first, err := lifecycle.ActivateFor(context.Background(), order)
	require.NoError(t, err)
	second, err := lifecycle.ActivateFor(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, first.EndDate, second.EndDate)
	assert.Equal(t, 1, subs.upsertHits, "second activation must not write")
}

func TestActivateForRequiresOrder(t *testing.T) {
	lifecycle := NewLifecycle(newFakeSubscriptionRepo(), newFakeUserRepo(), fixedNow)

	_, err := lifecycle.ActivateFor(context.Background(), nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCancelKeepsRemainingTime(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	lifecycle := NewLifecycle(subs, newFakeUserRepo(), fixedNow)

	end := fixedNow().Add(12 * 24 * time.Hour)
	require.NoError(t, subs.Upsert(&models.Subscription{
		UserID: 7, Plan: "pro", Status: models.SubscriptionStatusActive,
		StartDate: fixedNow().Add(-18 * 24 * time.Hour), EndDate: end,
		SourceOrderID: "order_1",
	}))

	sub, err := lifecycle.Cancel(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, end, sub.EndDate)
}

func TestExpireSweepDemotesUsers(t *testing.T) {
	subs := newFakeSubscriptionRepo()
	users := newFakeUserRepo()
	lifecycle := NewLifecycle(subs, users, fixedNow)

	require.NoError(t, subs.Upsert(&models.Subscription{
		UserID: 7, Plan: "pro", Status: models.SubscriptionStatusActive,
		EndDate: fixedNow().Add(-time.Hour), SourceOrderID: "order_1",
	}))
	require.NoError(t, subs.Upsert(&models.Subscription{
		UserID: 8, Plan: "max", Status: models.SubscriptionStatusActive,
		EndDate: fixedNow().Add(time.Hour), SourceOrderID: "order_2",
	}))
	require.NoError(t, users.SaveSettings(&models.UserSettings{UserID: 7, Plan: "pro"}))
	require.NoError(t, users.SaveSettings(&models.UserSettings{UserID: 8, Plan: "max"}))

	expired, err := lifecycle.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	demoted, err := users.GetOrCreateSettings(7)
	require.NoError(t, err)
	assert.Equal(t, "free", demoted.Plan)

	kept, err := users.GetOrCreateSettings(8)
	require.NoError(t, err)
	assert.Equal(t, "max", kept.Plan)

	sub, err := subs.GetByUserID(7)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusExpired, sub.Status)
}
