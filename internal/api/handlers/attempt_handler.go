package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
)

type AttemptHandler struct {
	s service.PublishService
}

func NewAttemptHandler(service service.PublishService) *AttemptHandler {
	return &AttemptHandler{s: service}
}

// Retry re-dispatches a retrying attempt right away and reports the outcome.
func (h *AttemptHandler) Retry(c *fiber.Ctx) error {
	logID, err := c.ParamsInt("id")
	if err != nil || logID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "attempt id is not valid",
		})
	}

	outcome, err := h.s.RetryAttempt(c.Context(), int64(logID))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"attempt_id": logID,
		"outcome":    outcome,
	})
}
