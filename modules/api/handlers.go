package api

import (
	"fmt"
	"net/url"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/example/team-chat/query"
	"github.com/gofiber/fiber/v2"
)

// Handlers contains HTTP handlers for the API.
type Handlers struct {
	auth     auth.AuthPort
	messages messages.MessagesPort
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(authPort auth.AuthPort, messagesPort messages.MessagesPort) *Handlers {
	return &Handlers{
		auth:     authPort,
		messages: messagesPort,
	}
}

// Login handles POST /auth/login.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return badRequest("Email and password are required")
	}

	tokens, err := h.auth.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: tokenResponse(tokens)})
}

// Refresh handles POST /auth/refresh.
func (h *Handlers) Refresh(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if req.RefreshToken == "" {
		return badRequest("Refresh token is required")
	}

	tokens, err := h.auth.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: tokenResponse(tokens)})
}

// Logout handles POST /auth/logout.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	var req RefreshRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if req.RefreshToken == "" {
		return badRequest("Refresh token is required")
	}

	if err := h.auth.Logout(c.UserContext(), req.RefreshToken); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func tokenResponse(tokens *domain.TokenPair) TokenResponse {
	return TokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		Expires:      tokens.Expires,
	}
}

// Me handles GET /users/me.
func (h *Handlers) Me(c *fiber.Ctx) error {
	claims, err := currentUser(c)
	if err != nil {
		return err
	}
	user, err := h.auth.GetUser(c.UserContext(), claims.UserID)
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: user})
}

// ListUsers handles GET /users. Users can be filtered by id only.
func (h *Handlers) ListUsers(c *fiber.Ctx) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	ids, err := userIDsFromFilter(q.Filter)
	if err != nil {
		return err
	}
	if q.Filter != nil && len(ids) == 0 {
		return c.JSON(DataResponse{Data: []domain.User{}})
	}

	users, err := h.auth.ListUsers(c.UserContext(), ids, q.EffectiveLimit(), q.Offset)
	if err != nil {
		return err
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(DataResponse{Data: users})
}

// GetUser handles GET /users/:id.
func (h *Handlers) GetUser(c *fiber.Ctx) error {
	user, err := h.auth.GetUser(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: user})
}

// CreateUser handles POST /users.
func (h *Handlers) CreateUser(c *fiber.Ctx) error {
	var req CreateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest("Invalid request body")
	}

	user, err := h.auth.CreateUser(c.UserContext(), auth.CreateUserRequest{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: user})
}

// ListMessages handles GET /items/messages.
func (h *Handlers) ListMessages(c *fiber.Ctx) error {
	q, err := parseQuery(c)
	if err != nil {
		return err
	}
	if err := q.Filter.Validate(messages.Columns.Allowed); err != nil {
		return err
	}

	msgs, err := h.messages.List(c.UserContext(), q)
	if err != nil {
		return err
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	return c.JSON(DataResponse{Data: msgs})
}

// GetMessage handles GET /items/messages/:id.
func (h *Handlers) GetMessage(c *fiber.Ctx) error {
	msg, err := h.messages.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: msg})
}

// CreateMessage handles POST /items/messages. The author is always the
// authenticated user.
func (h *Handlers) CreateMessage(c *fiber.Ctx) error {
	claims, err := currentUser(c)
	if err != nil {
		return err
	}
	text, err := messageText(c)
	if err != nil {
		return err
	}

	msg, err := h.messages.Create(c.UserContext(), claims.UserID, text)
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: msg})
}

// UpdateMessage handles PATCH /items/messages/:id.
func (h *Handlers) UpdateMessage(c *fiber.Ctx) error {
	claims, err := currentUser(c)
	if err != nil {
		return err
	}
	text, err := messageText(c)
	if err != nil {
		return err
	}

	msg, err := h.messages.Update(c.UserContext(), claims.UserID, c.Params("id"), text)
	if err != nil {
		return err
	}
	return c.JSON(DataResponse{Data: msg})
}

// DeleteMessage handles DELETE /items/messages/:id.
func (h *Handlers) DeleteMessage(c *fiber.Ctx) error {
	claims, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := h.messages.Delete(c.UserContext(), claims.UserID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func messageText(c *fiber.Ctx) (string, error) {
	var req MessageRequest
	if err := c.BodyParser(&req); err != nil {
		return "", badRequest("Invalid request body")
	}
	if req.Text == nil {
		return "", badRequest("text is required")
	}
	return *req.Text, nil
}

func parseQuery(c *fiber.Ctx) (query.Query, error) {
	values, err := url.ParseQuery(string(c.Request().URI().QueryString()))
	if err != nil {
		return query.Query{}, fmt.Errorf("%w: %v", query.ErrInvalidQuery, err)
	}
	return query.Parse(values)
}

// userIDsFromFilter accepts {"id":{"_eq":...}} and {"id":{"_in":[...]}}.
func userIDsFromFilter(f query.Filter) ([]string, error) {
	if len(f) == 0 {
		return nil, nil
	}
	if err := f.Validate(func(path string) bool { return path == "id" }); err != nil {
		return nil, err
	}
	cond, ok := f["id"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: users can only be filtered by id", query.ErrInvalidQuery)
	}

	var ids []string
	for op, arg := range cond {
		switch op {
		case "_eq":
			id, ok := arg.(string)
			if !ok {
				return nil, fmt.Errorf("%w: id must be a string", query.ErrInvalidQuery)
			}
			ids = append(ids, id)
		case "_in":
			list, ok := arg.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: _in expects an array", query.ErrInvalidQuery)
			}
			for _, item := range list {
				id, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: id must be a string", query.ErrInvalidQuery)
				}
				ids = append(ids, id)
			}
		default:
			return nil, fmt.Errorf("%w: users support only _eq and _in on id", query.ErrInvalidQuery)
		}
	}
	return ids, nil
}
