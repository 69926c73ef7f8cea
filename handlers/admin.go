// handlers/admin.go
package handlers

import (
	"strconv"

	"wildlife-rewards/middleware"
	"wildlife-rewards/models"
	"wildlife-rewards/services"
	"wildlife-rewards/utils"

	"github.com/gofiber/fiber/v2"
)

type reviewBody struct {
	Action models.ReviewAction `json:"action"`
	Notes  *string             `json:"notes,omitempty"`
}

type adjustBody struct {
	UserID   string          `json:"user_id"`
	Currency models.Currency `json:"currency"`
	Amount   int64           `json:"amount"`
	Reason   string          `json:"reason"`
}

type settingBody struct {
	Value       string `json:"value"`
	DataType    string `json:"data_type"`
	Category    string `json:"category"`
	Description string `json:"description,omitempty"`
}

// SetupAdminRoutes registers the moderation and configuration endpoints under /s/admin.
func SetupAdminRoutes(app *fiber.App, completionService *services.CompletionService, aggregator *services.LeaderboardAggregator) {
	admin := app.Group("/s/admin", middleware.UserContextMiddleware(), middleware.RequireRole("admin"))

	// --- Risk review ---
	admin.Get("/risk/flagged", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))
		var reviewed *bool
		if raw := c.Query("reviewed"); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return badRequest(c, "reviewed must be true or false", err)
			}
			reviewed = &v
		}
		records, total, err := completionService.Risk.ListFlagged(c.UserContext(), reviewed, page, size)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"records": records, "total": total, "page": page, "size": size})
	})

	admin.Post("/risk/:id/review", func(c *fiber.Ctx) error {
		var body reviewBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid review payload", err)
		}
		result, err := completionService.Risk.Review(c.UserContext(), services.ReviewRequest{
			RecordID: c.Params("id"),
			AdminID:  middleware.UserID(c),
			Action:   body.Action,
			Notes:    body.Notes,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	admin.Get("/risk/users/:userId", func(c *fiber.Ctx) error {
		summary, err := completionService.Risk.UserRiskSummary(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})

	// --- Currency adjustments ---
	admin.Post("/currency/penalty", func(c *fiber.Ctx) error {
		var body adjustBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid penalty payload", err)
		}
		if body.UserID == "" {
			return badRequest(c, "user_id is required", nil)
		}
		tx, err := completionService.Ledger.Penalty(c.UserContext(), services.PenaltyRequest{
			UserID:   body.UserID,
			Currency: body.Currency,
			Amount:   body.Amount,
			Reason:   body.Reason,
			AdminID:  middleware.UserID(c),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tx)
	})

	admin.Post("/currency/grant", func(c *fiber.Ctx) error {
		var body adjustBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid grant payload", err)
		}
		if body.UserID == "" {
			return badRequest(c, "user_id is required", nil)
		}
		tx, err := completionService.Ledger.AdminAdjust(c.UserContext(), services.AdminGrantRequest{
			UserID:   body.UserID,
			Currency: body.Currency,
			Amount:   body.Amount,
			Reason:   body.Reason,
			AdminID:  middleware.UserID(c),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tx)
	})

	// --- Reward configuration ---
	admin.Get("/reward-tiers", func(c *fiber.Ctx) error {
		configs, err := completionService.Calculator.ListTierConfigs(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(configs)
	})

	admin.Put("/reward-tiers", func(c *fiber.Ctx) error {
		var cfg models.RewardTierConfig
		if err := c.BodyParser(&cfg); err != nil {
			return badRequest(c, "invalid tier payload", err)
		}
		saved, err := completionService.Calculator.UpsertTierConfig(c.UserContext(), cfg)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(saved)
	})

	admin.Put("/reward-overrides", func(c *fiber.Ctx) error {
		var o models.RewardOverride
		if err := c.BodyParser(&o); err != nil {
			return badRequest(c, "invalid override payload", err)
		}
		saved, err := completionService.Calculator.UpsertOverride(c.UserContext(), o)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(saved)
	})

	admin.Put("/settings/:key", func(c *fiber.Ctx) error {
		var body settingBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid setting payload", err)
		}
		saved, err := completionService.Settings.Update(c.UserContext(), models.SiteSetting{
			Key:         c.Params("key"),
			Value:       body.Value,
			DataType:    body.DataType,
			Category:    body.Category,
			Description: body.Description,
		})
		if err != nil {
			return respondError(c, err)
		}
		utils.LogInfo("⚙️ [ADMIN] %s updated setting %s", middleware.UserID(c), saved.Key)
		return c.JSON(saved)
	})

	admin.Get("/accounts", func(c *fiber.Ctx) error {
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		accounts, err := completionService.Accounts.SearchAccounts(c.UserContext(), c.Query("q"), limit)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(accounts)
	})

	// --- Leaderboards ---
	admin.Post("/leaderboards/refresh", func(c *fiber.Ctx) error {
		if err := aggregator.Refresh(c.UserContext()); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"message": "leaderboards refreshed"})
	})

	admin.Post("/leaderboards/:type/archive", func(c *fiber.Ctx) error {
		url, err := aggregator.ArchiveClosedPeriod(c.UserContext(), models.LeaderboardType(c.Params("type")))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"url": url})
	})
}
