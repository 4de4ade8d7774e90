package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

const diagnosticMessage = "push-relay is deployed and working"

// Operations lists the relay's operations as reported by the diagnostic endpoint.
var Operations = []string{
	"watchOutbox - enqueues inserted pending records for delivery",
	"dispatch - sends a pending record to the push gateway and stores the outcome",
	"sweepExpired - deletes records older than the retention window daily",
}

func RegisterDiagnosticRoutes(router fiber.Router, now func() time.Time) {
	router.Get("/test", DiagnosticHandler(now))
}

// DiagnosticHandler returns a fixed descriptor for deployment checks. It
// touches no dependency.
func DiagnosticHandler(now func() time.Time) fiber.Handler {
	if now == nil {
		now = time.Now
	}

	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "success",
			"message":   diagnosticMessage,
			"timestamp": now().UTC().Format(time.RFC3339),
			"functions": Operations,
		})
	}
}
