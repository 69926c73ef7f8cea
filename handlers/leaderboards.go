package handlers

import (
	"strconv"

	"wildlife-rewards/middleware"
	"wildlife-rewards/models"
	"wildlife-rewards/services"

	"github.com/gofiber/fiber/v2"
)

// SetupLeaderboardRoutes exposes GET /s/leaderboards/:type?scope=&limit=
func SetupLeaderboardRoutes(app *fiber.App, aggregator *services.LeaderboardAggregator) {
	boards := app.Group("/s/leaderboards", middleware.UserContextMiddleware())

	boards.Get("/:type", func(c *fiber.Ctx) error {
		typ := models.LeaderboardType(c.Params("type"))
		limit, _ := strconv.Atoi(c.Query("limit", "10"))
		view, err := aggregator.Get(c.UserContext(), typ, c.Query("scope"), limit, middleware.UserID(c))
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(view)
	})
}
