package task

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/telemetry"
	"github.com/hubex-fl/hubex/pkg/device"
)

// Handler provides the task endpoints for both principal kinds.
type Handler struct {
	logger  *slog.Logger
	service *Service
	devices *device.Store
}

// NewHandler creates a Handler. The device store backs ownership checks on
// the user-facing routes.
func NewHandler(logger *slog.Logger, service *Service, devices *device.Store) *Handler {
	return &Handler{logger: logger, service: service, devices: devices}
}

// Routes returns the device-facing /tasks routes.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/context/heartbeat", h.handleHeartbeat)
	r.Post("/poll", h.handlePoll)
	r.Post("/{taskID}/complete", h.handleComplete)
	r.Post("/{taskID}/renew", h.handleRenew)
	return r
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var req HeartbeatRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	out, err := h.service.Heartbeat(ctx, principal.DeviceID, &req)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	limit := httpserver.QueryInt(r, "limit", 1)
	leaseSeconds := httpserver.QueryInt(r, "lease_seconds", 60)
	contextKey := r.URL.Query().Get("context_key")

	items, err := h.service.Poll(ctx, principal, limit, leaseSeconds, contextKey)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	telemetry.TasksPolledTotal.Add(float64(len(items)))
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleRenew(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	leaseSeconds := httpserver.QueryInt(r, "lease_seconds", 60)
	leaseToken := r.URL.Query().Get("lease_token")

	expiresAt, err := h.service.Renew(ctx, principal.DeviceID, taskID, leaseSeconds, leaseToken)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"id":               taskID,
		"lease_expires_at": expiresAt,
	})
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	var req CompleteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	t, err := h.service.Complete(ctx, principal.DeviceID, taskID, &req)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"id":           t.ID,
		"status":       t.Status,
		"completed_at": t.CompletedAt,
	})
}

// --- user-facing, device-scoped routes ---

func (h *Handler) ownedDevice(w http.ResponseWriter, r *http.Request) (*device.Device, bool) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return nil, false
	}

	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid device ID")
		return nil, false
	}

	d, err := h.devices.GetOwned(ctx, deviceID, principal.UserID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return nil, false
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
		return nil, false
	}
	return d, true
}

// HandleCreateForDevice enqueues a task for an owned device.
func (h *Handler) HandleCreateForDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	out, err := h.service.Enqueue(r.Context(), d.ID, &req)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

// HandleListForDevice lists an owned device's tasks.
func (h *Handler) HandleListForDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	items, err := h.service.List(r.Context(), d.ID, r.URL.Query().Get("status"), httpserver.QueryInt(r, "limit", 50))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

// HandleCurrentTask returns the owned device's active lease view.
func (h *Handler) HandleCurrentTask(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	out, err := h.service.Current(r.Context(), d.ID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, out)
}

// HandleTaskHistory returns the owned device's recent task history.
func (h *Handler) HandleTaskHistory(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	items, err := h.service.History(r.Context(), d.ID, httpserver.QueryInt(r, "limit", 5))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

// HandleCancel cancels a task on an owned device.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	d, ok := h.ownedDevice(w, r)
	if !ok {
		return
	}

	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	t, err := h.service.Cancel(r.Context(), d.ID, taskID, httpserver.QueryBool(r, "force"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"id":           t.ID,
		"status":       t.Status,
		"completed_at": t.CompletedAt,
	})
}

func parseTaskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "taskID"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid task ID")
		return 0, false
	}
	return id, true
}
