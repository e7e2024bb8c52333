package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicops/clinicops/pkg/pagination"
)

// maxBodyBytes caps inbound webhook bodies. Partner payloads are small; a
// larger body is a misbehaving sender, not a bigger invoice.
const maxBodyBytes = 1 << 20

type Handler struct {
	svc        *Service
	deadLetter DeadLetterRepository
	logger     zerolog.Logger
}

func NewHandler(svc *Service, deadLetter DeadLetterRepository, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, deadLetter: deadLetter, logger: logger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/webhooks/invoice", h.ReceiveInvoice)
	api.GET("/webhooks/invoice", h.DescribeInvoice)
	api.GET("/webhooks/dead-letters", h.ListDeadLetters)
	api.GET("/webhooks/dead-letters/:id", h.GetDeadLetter)
	api.POST("/webhooks/dead-letters/:id/replay", h.ReplayDeadLetter)
}

// ReceiveInvoice accepts one payment event and maps the pipeline's error
// taxonomy onto HTTP statuses:
//
//	200 processed (including replays and domain-level duplicates)
//	202 parked in the dead-letter queue
//	400 payload failed validation
//	401 secret missing or wrong
//	500 misconfiguration or unparkable persistence failure
func (h *Handler) ReceiveInvoice(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable body")
	}

	secret := SecretFromHeaders(c.Request().Header)
	result, err := h.svc.Process(c.Request().Context(), body, secret)
	if err != nil {
		return h.mapError(c, err)
	}

	if result.Parked {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

// DescribeInvoice answers GET probes from webhook senders with the endpoint
// contract so integrators can verify their configuration without firing a
// test payment.
func (h *Handler) DescribeInvoice(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"endpoint": "/webhooks/invoice",
		"method":   http.MethodPost,
		"auth":     []string{"X-Webhook-Secret", "X-Api-Key", "Authorization: Bearer"},
		"required": []string{"customer_email", "method_payment_id"},
		"statuses": map[string]string{
			"200": "processed, duplicate, or replayed",
			"202": "accepted and parked for retry",
			"400": "payload failed validation",
			"401": "secret missing or wrong",
			"500": "server misconfiguration or unrecoverable failure",
		},
	})
}

func (h *Handler) mapError(c echo.Context, err error) error {
	var invalid *ValidationError
	switch {
	case errors.Is(err, ErrConfiguration):
		// Do not leak configuration state to the caller.
		h.logger.Error().Err(err).Msg("webhook rejected due to server misconfiguration")
		return echo.NewHTTPError(http.StatusInternalServerError, "server error")
	case errors.Is(err, ErrAuthentication):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook secret")
	case errors.As(err, &invalid):
		return echo.NewHTTPError(http.StatusBadRequest, invalid.Error())
	default:
		h.logger.Error().Err(err).Msg("webhook processing failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed")
	}
}

func (h *Handler) ListDeadLetters(c echo.Context) error {
	pg := pagination.FromContext(c)
	entries, total, err := h.deadLetter.ListPending(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(entries, total, pg.Limit, pg.Offset))
}

// ReplayDeadLetter pushes a parked event back through the pipeline.
func (h *Handler) ReplayDeadLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	result, err := h.svc.Replay(c.Request().Context(), id)
	if err != nil {
		var invalid *ValidationError
		switch {
		case errors.Is(err, ErrDeadLetterNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "dead letter not found")
		case errors.As(err, &invalid):
			return echo.NewHTTPError(http.StatusConflict, invalid.Error())
		default:
			h.logger.Error().Err(err).Str("dead_letter_id", id.String()).Msg("dead letter replay failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "replay failed")
		}
	}
	if result.Parked {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *Handler) GetDeadLetter(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	entry, err := h.deadLetter.GetByID(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "dead letter not found")
	}
	return c.JSON(http.StatusOK, entry)
}
