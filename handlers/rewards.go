// handlers/rewards.go
package handlers

import (
	"strconv"

	"wildlife-rewards/middleware"
	"wildlife-rewards/models"
	"wildlife-rewards/services"

	"github.com/gofiber/fiber/v2"
)

type spendBody struct {
	Amount      int64   `json:"amount"`
	Item        string  `json:"item"`
	Description string  `json:"description"`
	Reference   *string `json:"reference,omitempty"`
}

// SetupRewardRoutes registers the user-facing completion and wallet endpoints.
func SetupRewardRoutes(app *fiber.App, completionService *services.CompletionService) {
	activities := app.Group("/s/activities", middleware.UserContextMiddleware())
	rewards := app.Group("/s/rewards", middleware.UserContextMiddleware())

	activities.Post("/complete", func(c *fiber.Ctx) error {
		var req services.CompletionRequest
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid completion payload", err)
		}
		req.UserID = middleware.UserID(c)
		result, err := completionService.Complete(c.UserContext(), req)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	rewards.Post("/daily-login", func(c *fiber.Ctx) error {
		result, err := completionService.ProcessDailyLogin(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(result)
	})

	rewards.Get("/balance", func(c *fiber.Ctx) error {
		bal, err := completionService.Ledger.GetBalance(c.UserContext(), middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(bal)
	})

	rewards.Get("/transactions", func(c *fiber.Ctx) error {
		page, _ := strconv.Atoi(c.Query("page", "1"))
		size, _ := strconv.Atoi(c.Query("size", "20"))
		var currency *models.Currency
		if raw := c.Query("currency"); raw != "" {
			cur := models.Currency(raw)
			if !cur.Valid() {
				return badRequest(c, "currency must be points or credits", nil)
			}
			currency = &cur
		}
		txs, total, err := completionService.Ledger.History(c.UserContext(), middleware.UserID(c), currency, page, size)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{
			"transactions": txs,
			"total":        total,
			"page":         page,
			"size":         size,
		})
	})

	rewards.Get("/daily-summary", func(c *fiber.Ctx) error {
		snap := completionService.Settings.Snapshot(c.UserContext())
		summary, err := completionService.Tracker.Summary(c.UserContext(), snap, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(summary)
	})

	rewards.Post("/spend", func(c *fiber.Ctx) error {
		var body spendBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid spend payload", err)
		}
		tx, err := completionService.Ledger.Spend(c.UserContext(), services.SpendRequest{
			UserID:      middleware.UserID(c),
			Amount:      body.Amount,
			Item:        body.Item,
			Description: body.Description,
			Reference:   body.Reference,
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(tx)
	})
}
