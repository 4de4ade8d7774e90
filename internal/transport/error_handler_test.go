package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "fiber error", err: fiber.NewError(fiber.StatusTeapot, "teapot"), want: fiber.StatusTeapot},
		{name: "validation", err: fmt.Errorf("%w: target is required", domain.ErrValidation), want: fiber.StatusBadRequest},
		{name: "record validation", err: &domain.ValidationError{Code: domain.ErrorCodeInvalidTarget}, want: fiber.StatusBadRequest},
		{name: "not found", err: fmt.Errorf("record x: %w", domain.ErrNotFound), want: fiber.StatusNotFound},
		{name: "conflict", err: domain.ErrConflict, want: fiber.StatusConflict},
		{name: "unknown", err: errors.New("boom"), want: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := StatusFor(tt.err); got != tt.want {
				t.Fatalf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestErrorHandler_WritesJSONAndLogs(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fmt.Errorf("record r1: %w", domain.ErrNotFound)
	})
	app.Get("/broken", func(c *fiber.Ctx) error {
		return errors.New("store unavailable")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/missing", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"error":"record r1: not found"`) {
		t.Fatalf("body = %s, want error field", string(body))
	}

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/broken", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	if got := logs.FilterMessage("request rejected").Len(); got != 1 {
		t.Fatalf("warn logs = %d, want 1", got)
	}
	if got := logs.FilterMessage("request error").Len(); got != 1 {
		t.Fatalf("error logs = %d, want 1", got)
	}
}
