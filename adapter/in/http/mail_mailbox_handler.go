package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"mail_worker/core/port/in"
	"mail_worker/pkg/response"
)

// MailboxHandler serves the live-read tools: mail_list_recent and mail_get.
type MailboxHandler struct {
	mailbox in.MailboxService
}

func NewMailboxHandler(mailbox in.MailboxService) *MailboxHandler {
	return &MailboxHandler{mailbox: mailbox}
}

func (h *MailboxHandler) Register(router fiber.Router) {
	mail := router.Group("/accounts/:id/mail")
	mail.Get("/", h.ListRecent)
	mail.Get("/:uid", h.Get)
}

// ListRecent fetches the newest messages straight off the server.
// GET /api/v1/accounts/:id/mail?limit=20
func (h *MailboxHandler) ListRecent(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	limit := c.QueryInt("limit", 0)
	emails, err := h.mailbox.ListRecent(c.Context(), userID, c.Params("id"), limit)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, emails)
}

// Get fetches one message by UID.
// GET /api/v1/accounts/:id/mail/:uid
func (h *MailboxHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil || uid == 0 {
		return response.BadRequest(c, "invalid message uid")
	}

	email, err := h.mailbox.Get(c.Context(), userID, c.Params("id"), uint32(uid))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, email)
}
