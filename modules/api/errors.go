package api

import (
	"errors"
	"log"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/modules/auth"
	"github.com/example/team-chat/modules/messages"
	"github.com/example/team-chat/query"
	"github.com/gofiber/fiber/v2"
)

// Error codes of the error envelope.
const (
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidQuery       = "INVALID_QUERY"
	CodeRecordNotUnique    = "RECORD_NOT_UNIQUE"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRequestsExceeded   = "REQUESTS_EXCEEDED"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{auth.ErrInvalidCredentials, fiber.StatusUnauthorized, CodeInvalidCredentials},
	{auth.ErrExpiredToken, fiber.StatusUnauthorized, CodeTokenExpired},
	{auth.ErrInvalidToken, fiber.StatusUnauthorized, CodeInvalidToken},
	{auth.ErrTokenRevoked, fiber.StatusUnauthorized, CodeInvalidToken},
	{auth.ErrUserExists, fiber.StatusBadRequest, CodeRecordNotUnique},
	{auth.ErrInvalidEmail, fiber.StatusBadRequest, CodeInvalidPayload},
	{auth.ErrWeakPassword, fiber.StatusBadRequest, CodeInvalidPayload},
	{auth.ErrPasswordTooLong, fiber.StatusBadRequest, CodeInvalidPayload},
	{auth.ErrFirstNameRequired, fiber.StatusBadRequest, CodeInvalidPayload},
	{auth.ErrUserNotFound, fiber.StatusNotFound, CodeNotFound},
	{messages.ErrMessageNotFound, fiber.StatusNotFound, CodeNotFound},
	{messages.ErrNotAuthor, fiber.StatusForbidden, CodeForbidden},
	{messages.ErrUnknownAuthor, fiber.StatusForbidden, CodeForbidden},
	{domain.ErrMessageEmpty, fiber.StatusBadRequest, CodeInvalidPayload},
	{domain.ErrMessageTooLong, fiber.StatusBadRequest, CodeInvalidPayload},
	{domain.ErrMessageInvalid, fiber.StatusBadRequest, CodeInvalidPayload},
	{query.ErrInvalidQuery, fiber.StatusBadRequest, CodeInvalidQuery},
	{query.ErrUnknownField, fiber.StatusBadRequest, CodeInvalidQuery},
	{query.ErrUnknownOperator, fiber.StatusBadRequest, CodeInvalidQuery},
}

// customErrorHandler renders every handler error in the error envelope.
func customErrorHandler(c *fiber.Ctx, err error) error {
	status, code, message := classifyError(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("[api] Internal error on %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(newErrorResponse(code, message))
}

func classifyError(err error) (status int, code, message string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			if m.code == CodeInvalidQuery {
				return m.status, m.code, err.Error()
			}
			return m.status, m.code, m.err.Error()
		}
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, fiberErrorCode(fe.Code), fe.Message
	}
	return fiber.StatusInternalServerError, CodeInternal, "An internal error occurred"
}

func fiberErrorCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return CodeInvalidPayload
	case fiber.StatusUnauthorized:
		return CodeInvalidToken
	case fiber.StatusForbidden:
		return CodeForbidden
	case fiber.StatusNotFound:
		return CodeNotFound
	case fiber.StatusTooManyRequests:
		return CodeRequestsExceeded
	default:
		if status >= 500 {
			return CodeInternal
		}
		return "ROUTE_ERROR"
	}
}

func badRequest(message string) error {
	return fiber.NewError(fiber.StatusBadRequest, message)
}

func unauthorized(message string) error {
	return fiber.NewError(fiber.StatusUnauthorized, message)
}
