package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/kenn289/oryn-alert-hub-sub003/app/models"
	"github.com/kenn289/oryn-alert-hub-sub003/app/repository"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/database"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/entitlements"
	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "User not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user"})
	}

	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Database unavailable"})
	}
	settings, err := models.GetOrCreateUserSettings(db, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load user settings"})
	}

	plan := entitlements.Normalize(settings.Plan)

	var subscription fiber.Map
	if sub, err := repository.GetGlobalFactory().GetSubscriptionRepository().GetByUserID(userCtx.UserID); err == nil {
		subscription = fiber.Map{
			"plan":       sub.Plan,
			"status":     sub.Status,
			"start_date": sub.StartDate.UTC().Format(time.RFC3339),
			"end_date":   sub.EndDate.UTC().Format(time.RFC3339),
			"current":    sub.IsCurrent(time.Now()),
		}
	}

	response := fiber.Map{
		"id":                   account.ID,
		"username":             account.Name,
		"email":                account.Email,
		"status":               account.Status,
		"plan":                 string(plan),
		"is_admin":             account.Role == models.ROLE_ADMIN,
		"created_at":           account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at":        formatTimePtr(account.LastLoginAt),
		"api_key_last_used_at": formatTimePtr(settings.APIKeyLastUsedAt),
		"subscription":         subscription,
	}

	return c.JSON(response)
}

// HandleGetPlans lists the purchasable plans with their prices and billing
// period. Public: the checkout page renders from this.
func HandleGetPlans(c *fiber.Ctx) error {
	plans := make([]fiber.Map, 0, 2)
	for _, plan := range []entitlements.Plan{entitlements.PlanPro, entitlements.PlanMax} {
		price, ok := entitlements.Price(plan)
		if !ok {
			continue
		}
		plans = append(plans, fiber.Map{
			"plan":        string(plan),
			"amount":      price.Amount,
			"currency":    price.Currency,
			"period_days": int(entitlements.Duration(plan).Hours() / 24),
			"rank":        entitlements.Rank(plan),
		})
	}
	return c.JSON(fiber.Map{"plans": plans})
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
