package http

import (
	"github.com/gofiber/fiber/v2"

	"mail_worker/core/domain"
	"mail_worker/core/port/in"
	"mail_worker/pkg/response"
)

// UIHandler serves the account-management panel. The panel speaks a single
// action endpoint; every mutation also lands a change event so open panels
// refresh.
type UIHandler struct {
	accounts   in.AccountService
	settings   in.SettingsService
	editStates in.EditStateService
	oauth      in.OAuthService
}

func NewUIHandler(
	accounts in.AccountService,
	settings in.SettingsService,
	editStates in.EditStateService,
	oauth in.OAuthService,
) *UIHandler {
	return &UIHandler{
		accounts:   accounts,
		settings:   settings,
		editStates: editStates,
		oauth:      oauth,
	}
}

func (h *UIHandler) Register(router fiber.Router) {
	ui := router.Group("/ui")
	ui.Get("/state", h.State)
	ui.Post("/action", h.Action)
}

// uiState is everything the panel renders.
type uiState struct {
	Accounts  []*domain.Account `json:"accounts"`
	EditState *domain.EditState `json:"edit_state"`
	Settings  *domain.Settings  `json:"settings"`
}

// State returns the full panel state in one round trip.
// GET /api/v1/ui/state
func (h *UIHandler) State(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	accounts, err := h.accounts.List(c.Context(), userID)
	if err != nil {
		return response.FromError(c, err)
	}
	settings, err := h.settings.Get(c.Context(), userID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, uiState{
		Accounts:  accounts,
		EditState: h.editStates.Get(userID),
		Settings:  settings,
	})
}

type uiActionRequest struct {
	Action    string `json:"action"`
	AccountID string `json:"account_id,omitempty"`
	Field     string `json:"field,omitempty"`
	Value     string `json:"value,omitempty"`
}

// Action dispatches one panel action.
// POST /api/v1/ui/action
func (h *UIHandler) Action(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return response.Unauthorized(c, "unauthorized")
	}

	var req uiActionRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	ctx := c.Context()

	switch req.Action {
	case "getAccounts":
		accounts, err := h.accounts.List(ctx, userID)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, accounts)

	case "getEditState":
		return response.OK(c, h.editStates.Get(userID))

	case "showAddForm":
		return response.OK(c, h.editStates.ShowAddForm(userID))

	case "editAccount":
		state, err := h.editStates.EditAccount(ctx, userID, req.AccountID)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, state)

	case "updateFormField":
		state, err := h.editStates.UpdateField(userID, req.Field, req.Value)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, state)

	case "closeModal":
		return response.OK(c, h.editStates.CloseModal(userID))

	case "startOAuth":
		return h.startOAuth(c, userID)

	case "saveAccount":
		return h.saveAccount(c, userID)

	case "deleteAccount":
		if err := h.accounts.Delete(ctx, userID, req.AccountID); err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, fiber.Map{"deleted": req.AccountID})

	case "testConnection":
		if err := h.accounts.TestConnection(ctx, userID, req.AccountID); err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, fiber.Map{"status": "ok"})

	case "getSettings":
		settings, err := h.settings.Get(ctx, userID)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, settings)

	case "updateSetting":
		settings, err := h.settings.Update(ctx, userID, req.Value)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.OK(c, settings)

	default:
		return response.BadRequest(c, "unknown action "+req.Action)
	}
}

// startOAuth launches the device flow from the form's provider and email.
func (h *UIHandler) startOAuth(c *fiber.Ctx, userID string) error {
	state := h.editStates.Get(userID)
	auth, err := h.oauth.StartDeviceFlow(c.Context(), userID, state.Provider, state.Email)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, auth)
}

// saveAccount lands the form through add or update depending on whether an
// account is being edited.
func (h *UIHandler) saveAccount(c *fiber.Ctx, userID string) error {
	state := h.editStates.Get(userID)
	input := &in.AccountInput{
		Provider: state.Provider,
		Name:     state.Name,
		Email:    state.Email,
		IMAPHost: state.IMAPHost,
		IMAPPort: state.IMAPPort,
		Security: state.Security,
		Username: state.Username,
		Password: state.Password,
	}

	var (
		account *domain.Account
		err     error
	)
	if state.AccountID != "" {
		account, err = h.accounts.Update(c.Context(), userID, state.AccountID, input)
	} else {
		account, err = h.accounts.Add(c.Context(), userID, input)
	}
	if err != nil {
		return response.FromError(c, err)
	}

	h.editStates.CloseModal(userID)
	return response.OK(c, account)
}
