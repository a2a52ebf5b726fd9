package ingest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
	"github.com/hubex-fl/hubex/internal/telemetry"
	"github.com/hubex-fl/hubex/pkg/device"
)

// Handler provides telemetry ingest, read views and the WebSocket attach.
type Handler struct {
	logger    *slog.Logger
	store     *Store
	devices   *device.Store
	limiter   *RateLimiter
	hub       *Hub
	tokens    *auth.TokenManager
	authStore *auth.Store
	wsMax     int
	upgrader  websocket.Upgrader
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, store *Store, devices *device.Store, limiter *RateLimiter, hub *Hub, tokens *auth.TokenManager, authStore *auth.Store, wsMax int) *Handler {
	return &Handler{
		logger:    logger,
		store:     store,
		devices:   devices,
		limiter:   limiter,
		hub:       hub,
		tokens:    tokens,
		authStore: authStore,
		wsMax:     wsMax,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleIngest validates, rate-limits and persists one event, then fans it
// out to subscribed WebSocket clients.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var req IngestRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if !h.limiter.Allow(principal.DeviceID, time.Now()) {
		telemetry.TelemetryRateLimitedTotal.Inc()
		w.Header().Set("Retry-After", "60")
		httpserver.RespondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded")
		return
	}

	if apiErr := ValidatePayload(req.Payload); apiErr != nil {
		httpserver.RespondAPIError(w, h.logger, apiErr)
		return
	}

	event, err := h.store.Insert(ctx, principal.DeviceID, req.EventType, req.Payload)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	telemetry.TelemetryEventsTotal.Inc()

	if frame, err := json.Marshal(event); err == nil {
		h.hub.Broadcast(principal.DeviceID, frame)
	}

	httpserver.Respond(w, http.StatusOK, IngestResponse{
		TelemetryID: event.ID,
		ReceivedAt:  event.ReceivedAt,
	})
}

func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)
	items, err := h.store.Recent(ctx, principal.DeviceID, limit)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) ownedDeviceID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return 0, false
	}

	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid device ID")
		return 0, false
	}

	d, err := h.devices.GetOwned(ctx, deviceID, principal.UserID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return 0, false
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
		return 0, false
	}
	return d.ID, true
}

// HandleDeviceTelemetryRecent serves the owner's recent-events view.
func (h *Handler) HandleDeviceTelemetryRecent(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.ownedDeviceID(w, r)
	if !ok {
		return
	}

	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)
	items, err := h.store.Recent(r.Context(), deviceID, limit)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

// HandleDeviceTelemetry serves the owner's paged events view.
func (h *Handler) HandleDeviceTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := h.ownedDeviceID(w, r)
	if !ok {
		return
	}

	var before *time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid before timestamp")
			return
		}
		before = &t
	}

	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)
	items, err := h.store.Page(r.Context(), deviceID, before, limit)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

// HandleWS attaches a WebSocket client to a device's telemetry stream. The
// user JWT arrives as a query parameter because browsers cannot set headers
// on WebSocket dials. The initial frame is a backlog of up to 5 events,
// oldest first; each broadcast follows as one JSON object.
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token := r.URL.Query().Get("token")
	if token == "" {
		httpserver.RespondError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing token")
		return
	}

	claims, err := h.tokens.Verify(token)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "AUTH_INVALID", "invalid token")
		return
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "AUTH_INVALID", "invalid token")
		return
	}
	exists, err := h.authStore.UserExists(ctx, userID)
	if err != nil || !exists {
		httpserver.RespondError(w, http.StatusUnauthorized, "AUTH_INVALID", "user not found")
		return
	}

	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid device ID")
		return
	}
	d, err := h.devices.GetOwned(ctx, deviceID, userID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
		return
	}

	backlog, err := h.store.Recent(ctx, deviceID, 5)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	// Oldest first for the initial frame.
	for i, j := 0, len(backlog)-1; i < j; i, j = i+1, j-1 {
		backlog[i], backlog[j] = backlog[j], backlog[i]
	}

	if h.hub.Count() >= h.wsMax {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"),
			time.Now().Add(writeTimeout),
		)
		_ = conn.Close()
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.hub.Add(deviceID, conn)
	h.logger.Info("telemetry ws connect", "device_id", deviceID, "active", h.hub.Count())
	defer func() {
		h.hub.Remove(deviceID, conn)
		_ = conn.Close()
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(backlog); err != nil {
		return
	}

	// Block reading until the peer goes away; broadcasts arrive via the hub.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
