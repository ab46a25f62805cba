package http

import (
	"github.com/gofiber/fiber/v2"

	"mail_worker/core/port/in"
	"mail_worker/pkg/response"
)

// AccountHandler serves the account tool surface: mail_accounts_list, add,
// update, delete and test.
type AccountHandler struct {
	accounts in.AccountService
}

func NewAccountHandler(accounts in.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

func (h *AccountHandler) Register(router fiber.Router) {
	accounts := router.Group("/accounts")
	accounts.Get("/", h.List)
	accounts.Post("/", h.Add)
	accounts.Get("/:id", h.Get)
	accounts.Put("/:id", h.Update)
	accounts.Delete("/:id", h.Delete)
	accounts.Post("/:id/test", h.Test)
}

// List returns every account of the user. Credentials never appear.
// GET /api/v1/accounts
func (h *AccountHandler) List(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	accounts, err := h.accounts.List(c.Context(), userID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, accounts)
}

// Get returns one account.
// GET /api/v1/accounts/:id
func (h *AccountHandler) Get(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	account, err := h.accounts.Get(c.Context(), userID, c.Params("id"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, account)
}

// Add creates a password-auth account.
// POST /api/v1/accounts
func (h *AccountHandler) Add(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var input in.AccountInput
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	account, err := h.accounts.Add(c.Context(), userID, &input)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, account)
}

// Update applies the mutable fields, rotating credentials when a password is
// supplied.
// PUT /api/v1/accounts/:id
func (h *AccountHandler) Update(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var input in.AccountInput
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	account, err := h.accounts.Update(c.Context(), userID, c.Params("id"), &input)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, account)
}

// Delete removes the account and its credentials and dedup history.
// DELETE /api/v1/accounts/:id
func (h *AccountHandler) Delete(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	if err := h.accounts.Delete(c.Context(), userID, c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Test dials the mailbox and selects INBOX. Auth rejections come back with
// the server's text.
// POST /api/v1/accounts/:id/test
func (h *AccountHandler) Test(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	if err := h.accounts.TestConnection(c.Context(), userID, c.Params("id")); err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"status": "ok"})
}
