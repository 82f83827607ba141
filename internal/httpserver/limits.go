package httpserver

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/speech_relay/internal/app"
	"github.com/ncecere/speech_relay/internal/httpserver/httputil"
	"github.com/ncecere/speech_relay/internal/limits"
)

// limitRequests admits each client (by IP) against the configured limits.
// Redis errors admit the request rather than fail it.
func limitRequests(container *app.Container) fiber.Handler {
	limiter := container.Limiter
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		key := c.IP()

		if err := limiter.Allow(ctx, key); err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				c.Set(fiber.HeaderRetryAfter, "60")
				return httputil.WriteError(c, fiber.StatusTooManyRequests, err.Error())
			}
			container.Logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
			return c.Next()
		}
		defer limiter.Release(ctx, key)

		if err := limiter.UploadAllowance(ctx, key, int64(len(c.Body()))); err != nil {
			if errors.Is(err, limits.ErrLimitExceeded) {
				c.Set(fiber.HeaderRetryAfter, "60")
				return httputil.WriteError(c, fiber.StatusTooManyRequests, "upload budget exceeded")
			}
			container.Logger.Warn("rate limiter unavailable", slog.String("error", err.Error()))
		}
		return c.Next()
	}
}
