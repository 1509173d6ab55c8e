package handlers

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
)

type PostHandler struct {
	s service.PostService
}

func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{s: service}
}

// CreatePost accepts a multipart form with title, body, hashtags,
// scheduled_time (RFC 3339), targets (JSON list of {platform, account_id}),
// simulated, captions (JSON list, one per file) and files.
func (h *PostHandler) CreatePost(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Info(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	scheduledTime, err := time.Parse(time.RFC3339, c.FormValue("scheduled_time"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "scheduled_time must be an RFC 3339 timestamp",
		})
	}

	var targets []transfer.TargetRequest
	if err := json.Unmarshal([]byte(c.FormValue("targets")), &targets); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "targets must be a JSON list of {platform, account_id}",
		})
	}

	var captions []string
	if raw := c.FormValue("captions"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &captions); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "captions must be a JSON list of strings",
			})
		}
	}

	simulated, _ := strconv.ParseBool(c.FormValue("simulated"))

	post, err := h.s.Schedule(c.Context(), userID, &transfer.PostCreation{
		Title:         c.FormValue("title"),
		Body:          c.FormValue("body"),
		Hashtags:      splitHashtags(c.FormValue("hashtags")),
		ScheduledTime: scheduledTime,
		Targets:       targets,
		Simulated:     simulated,
		Captions:      captions,
	}, form.File["files"])
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(transfer.PostCreated{
		ID:            post.ID,
		Status:        string(post.Status),
		ScheduledTime: post.ScheduledTime,
	})
}

func (h *PostHandler) UploadStatus(c *fiber.Ctx) error {
	postID, err := c.ParamsInt("id")
	if err != nil || postID <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "post id is not valid",
		})
	}

	status, err := h.s.UploadStatus(c.Context(), int64(postID), GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func splitHashtags(raw string) []string {
	return strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n'
	})
}
