package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxDocumentSize     int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware rejects malformed write requests before they reach the
// handlers: wrong content type, oversized document payloads, or agent
// identifiers that cannot be real.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 25 * 1024 * 1024
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}

			if strings.Contains(c.Path(), "/api/v1/documents") && len(c.Body()) > cfg.MaxDocumentSize {
				cfg.Logger.Warn("Oversized document payload rejected",
					zap.String("ip", c.IP()),
					zap.Int("size", len(c.Body())),
				)
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
		}

		if agentID := c.Params("agentID"); agentID != "" && !validIdentifier(agentID) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid agent identifier",
			})
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, a := range allowed {
		if strings.Contains(contentType, a) {
			return true
		}
	}
	return false
}

// validIdentifier accepts UUIDs and other short opaque ids; it exists
// to keep path garbage out of log lines and store queries.
func validIdentifier(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
