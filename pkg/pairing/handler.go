package pairing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/telemetry"
)

// Handler provides the pairing endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router with pairing routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/start", h.handleStart)
	r.Post("/confirm", h.handleConfirm)
	return r
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var req StartRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	out, err := h.service.Start(ctx, principal.UserID, req.DeviceUID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	deviceUID, pairingCode := req.Normalize()
	if deviceUID == "" || pairingCode == "" {
		httpserver.RespondValidationError(w, []httpserver.ValidationError{
			{Field: "device_uid", Message: "device_uid and pairing_code are required"},
		})
		return
	}

	out, err := h.service.Confirm(r.Context(), deviceUID, pairingCode)
	if err != nil {
		telemetry.PairingConfirmsTotal.WithLabelValues(confirmOutcome(err)).Inc()
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	telemetry.PairingConfirmsTotal.WithLabelValues("success").Inc()
	httpserver.Respond(w, http.StatusOK, out)
}

func confirmOutcome(err error) string {
	var apiErr *httpserver.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "PAIRING_CODE_NOT_FOUND", "DEVICE_NOT_FOUND":
			return "not_found"
		case "PAIRING_CODE_EXPIRED":
			return "expired"
		default:
			return "conflict"
		}
	}
	return "error"
}
