package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/session"
)

// WriteError standardizes JSON error responses.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

// StatusForError maps pipeline errors to HTTP status codes.
func StatusForError(err error) int {
	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.Is(err, audioinput.ErrInputNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, audioinput.ErrInputTooLarge):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrInferenceFailure):
		if errors.Is(err, context.DeadlineExceeded) {
			return fiber.StatusGatewayTimeout
		}
		return fiber.StatusBadGateway
	case errors.Is(err, session.ErrModelInitialization):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// WritePipelineError writes err with the status chosen by StatusForError.
func WritePipelineError(c *fiber.Ctx, err error) error {
	return WriteError(c, StatusForError(err), err.Error())
}
