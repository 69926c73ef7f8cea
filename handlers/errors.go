package handlers

import (
	"errors"

	"wildlife-rewards/services"
	"wildlife-rewards/utils"

	"github.com/gofiber/fiber/v2"
)

// respondError maps service errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "validation_error",
			"field": verr.Field,
			"cause": verr.Reason,
		})
	case errors.Is(err, services.ErrInsufficientFunds):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "insufficient_funds", "cause": err.Error()})
	case errors.Is(err, services.ErrCapExceeded):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": services.ReasonDailyLimit, "cause": err.Error()})
	case errors.Is(err, services.ErrDuplicateReward):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "duplicate_reward"})
	case errors.Is(err, services.ErrAlreadyReviewed):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_reviewed"})
	case errors.Is(err, services.ErrRecordNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	utils.LogError("❌ %s %s failed: %v", c.Method(), c.Path(), err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "internal error",
		"cause": err.Error(),
	})
}

func badRequest(c *fiber.Ctx, msg string, err error) error {
	body := fiber.Map{"error": msg}
	if err != nil {
		body["cause"] = err.Error()
	}
	return c.Status(fiber.StatusBadRequest).JSON(body)
}
