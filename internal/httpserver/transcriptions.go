package httpserver

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/speech_relay/internal/app"
	"github.com/ncecere/speech_relay/internal/audioinput"
	"github.com/ncecere/speech_relay/internal/httpserver/httputil"
)

type transcriptionHandler struct {
	container *app.Container
}

type objectRequest struct {
	Key string `json:"key"`
	Ext string `json:"ext"`
}

func registerTranscriptionRoutes(router fiber.Router, container *app.Container) {
	h := &transcriptionHandler{container: container}
	v1 := router.Group("/v1")
	if container.Limiter != nil {
		v1.Use(limitRequests(container))
	}
	v1.Post("/transcriptions", h.transcribeUpload)
	v1.Post("/transcriptions/object", h.transcribeObject)
}

// transcribeUpload accepts a multipart "file" field or a raw audio body with ?ext=.
func (h *transcriptionHandler) transcribeUpload(c *fiber.Ctx) error {
	contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
	if strings.HasPrefix(contentType, fiber.MIMEMultipartForm) {
		fh, err := c.FormFile("file")
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "file is required")
		}
		src, err := fh.Open()
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "failed to open file")
		}
		defer src.Close()

		ext := strings.TrimSpace(c.FormValue("ext"))
		if ext == "" {
			ext = filepath.Ext(fh.Filename)
		}
		return h.process(c, audioinput.ByteStream{Reader: src, Ext: ext})
	}

	// fasthttp owns c.Body(); it stays valid until the handler returns.
	return h.process(c, audioinput.ByteBuffer{Data: c.Body(), Ext: c.Query("ext")})
}

func (h *transcriptionHandler) transcribeObject(c *fiber.Ctx) error {
	if h.container.Inputs == nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "object inputs are not configured")
	}
	var req objectRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid JSON body")
	}
	if strings.TrimSpace(req.Key) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "key is required")
	}
	return h.process(c, audioinput.Object{Key: req.Key, Ext: req.Ext})
}

func (h *transcriptionHandler) process(c *fiber.Ctx, input audioinput.Input) error {
	ctx := c.UserContext()
	if timeout := h.container.Config.Server.RequestTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := h.container.Service.Process(ctx, input)
	if err != nil {
		h.container.Logger.Error("transcription request failed",
			slog.String("request_id", requestID(c)),
			slog.Int("status", httputil.StatusForError(err)),
			slog.String("error", err.Error()),
		)
		return httputil.WritePipelineError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return c.GetRespHeader(fiber.HeaderXRequestID)
}
