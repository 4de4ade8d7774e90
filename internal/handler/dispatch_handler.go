package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

type DispatchService interface {
	Create(ctx context.Context, record *domain.DispatchRecord) (*domain.DispatchRecord, error)
	GetByID(ctx context.Context, id string) (*domain.DispatchRecord, error)
}

type DispatchHandler struct {
	service DispatchService
}

func NewDispatchHandler(service DispatchService) (*DispatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	return &DispatchHandler{service: service}, nil
}

// RegisterDispatchRoutes mounts the producer API. Inserting through it is
// equivalent to writing a pending record straight into the store.
func RegisterDispatchRoutes(router fiber.Router, service DispatchService) error {
	h, err := NewDispatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/dispatches", h.CreateDispatch)
	v1.Get("/dispatches/:id", h.GetDispatch)

	return nil
}

type createDispatchRequest struct {
	Target          string                  `json:"target" validate:"required"`
	Title           string                  `json:"title" validate:"required_without=Body"`
	Body            string                  `json:"body"`
	Data            map[string]string       `json:"data"`
	PlatformOptions *platformOptionsRequest `json:"platformOptions"`
}

type platformOptionsRequest struct {
	ChannelID string `json:"channelId"`
	Sound     string `json:"sound"`
	Priority  string `json:"priority" validate:"omitempty,oneof=high normal HIGH NORMAL"`
	Badge     *int   `json:"badge" validate:"omitempty,min=0"`
}

type platformOptionsResponse struct {
	ChannelID string `json:"channelId,omitempty"`
	Sound     string `json:"sound,omitempty"`
	Priority  string `json:"priority,omitempty"`
	Badge     *int   `json:"badge,omitempty"`
}

type dispatchResponse struct {
	ID               string                   `json:"id"`
	Target           string                   `json:"target"`
	Title            string                   `json:"title,omitempty"`
	Body             string                   `json:"body,omitempty"`
	Data             map[string]string        `json:"data,omitempty"`
	PlatformOptions  *platformOptionsResponse `json:"platformOptions,omitempty"`
	Status           string                   `json:"status"`
	CreatedAt        time.Time                `json:"createdAt"`
	ProcessedAt      *time.Time               `json:"processedAt,omitempty"`
	GatewayMessageID string                   `json:"gatewayMessageId,omitempty"`
	ErrorDetail      string                   `json:"errorDetail,omitempty"`
	ErrorCode        string                   `json:"errorCode,omitempty"`
}

func (h *DispatchHandler) CreateDispatch(c *fiber.Ctx) error {
	var req createDispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validateStruct(&req); err != nil {
		return toHTTPError(err)
	}

	record, err := requestToDomainRecord(req)
	if err != nil {
		return toHTTPError(err)
	}

	created, err := h.service.Create(c.Context(), &record)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toDispatchResponse(created))
}

func (h *DispatchHandler) GetDispatch(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	record, err := h.service.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toDispatchResponse(record))
}

func requestToDomainRecord(req createDispatchRequest) (domain.DispatchRecord, error) {
	record := domain.DispatchRecord{
		Target: strings.TrimSpace(req.Target),
		Payload: domain.Payload{
			Title: strings.TrimSpace(req.Title),
			Body:  strings.TrimSpace(req.Body),
			Data:  req.Data,
		},
	}

	if req.PlatformOptions != nil {
		opts := &domain.PlatformOptions{
			ChannelID: strings.TrimSpace(req.PlatformOptions.ChannelID),
			Sound:     strings.TrimSpace(req.PlatformOptions.Sound),
			Badge:     req.PlatformOptions.Badge,
		}
		if raw := strings.TrimSpace(req.PlatformOptions.Priority); raw != "" {
			priority, err := domain.ParsePriorityFromString(raw)
			if err != nil {
				return domain.DispatchRecord{}, err
			}
			opts.Priority = priority
		}
		record.PlatformOptions = opts
	}

	return record, nil
}

func toDispatchResponse(r *domain.DispatchRecord) dispatchResponse {
	if r == nil {
		return dispatchResponse{}
	}

	resp := dispatchResponse{
		ID:               r.ID,
		Target:           r.Target,
		Title:            r.Payload.Title,
		Body:             r.Payload.Body,
		Data:             r.Payload.Data,
		Status:           r.Status.String(),
		CreatedAt:        r.CreatedAt,
		ProcessedAt:      r.ProcessedAt,
		GatewayMessageID: r.GatewayMessageID,
		ErrorDetail:      r.ErrorDetail,
		ErrorCode:        r.ErrorCode.String(),
	}
	if r.PlatformOptions != nil {
		resp.PlatformOptions = &platformOptionsResponse{
			ChannelID: r.PlatformOptions.ChannelID,
			Sound:     r.PlatformOptions.Sound,
			Priority:  r.PlatformOptions.Priority.String(),
			Badge:     r.PlatformOptions.Badge,
		}
	}
	return resp
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
