package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

func GetUserID(c *fiber.Ctx) int64 {
	userID, _ := c.Locals("user_id").(string)
	id, _ := strconv.ParseInt(userID, 10, 64)
	return id
}

// errorResponse maps service errors onto HTTP statuses.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidPost):
		status = fiber.StatusBadRequest
	case errors.Is(err, service.ErrPostNotFound), errors.Is(err, service.ErrAttemptNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, service.ErrAccountNotFound):
		status = fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrAttemptNotRetryable):
		status = fiber.StatusConflict
	}

	if status == fiber.StatusInternalServerError {
		slog.Error(err.Error())
		return c.Status(status).JSON(fiber.Map{"error": "Internal server error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
