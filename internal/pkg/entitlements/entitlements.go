package entitlements

import (
	"strconv"
	"strings"
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanMax  Plan = "max"
)

// PlanPrice is the charge for one billing period in minor currency units.
type PlanPrice struct {
	Amount   int64
	Currency string
}

var planPrices = map[Plan]PlanPrice{
	PlanPro: {Amount: 99900, Currency: "INR"},
	PlanMax: {Amount: 199900, Currency: "INR"},
}

// Normalize maps an arbitrary plan string to a known plan, defaulting to free.
func Normalize(plan string) Plan {
	switch strings.ToLower(strings.TrimSpace(plan)) {
	case string(PlanPro):
		return PlanPro
	case string(PlanMax):
		return PlanMax
	default:
		return PlanFree
	}
}

// Rank orders plans from free upward for the public plan catalog.
func Rank(plan Plan) int {
	switch plan {
	case PlanMax:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// IsPurchasable reports whether the plan can be bought through an order.
func IsPurchasable(plan Plan) bool {
	_, ok := planPrices[plan]
	return ok
}

// Price returns the billing amount for a purchasable plan.
func Price(plan Plan) (PlanPrice, bool) {
	p, ok := planPrices[plan]
	return p, ok
}

// Duration returns how long one paid period of the plan lasts. Defaults are 30
// days and can be overridden per plan via PLAN_DURATION_<PLAN>_DAYS.
func Duration(plan Plan) time.Duration {
	days := 30
	key := "PLAN_DURATION_" + strings.ToUpper(string(plan)) + "_DAYS"
	if raw := env.GetEnv(key, ""); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			days = v
		}
	}
	return time.Duration(days) * 24 * time.Hour
}
