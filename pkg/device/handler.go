package device

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
)

// Handler provides HTTP handlers for the device registry.
type Handler struct {
	logger       *slog.Logger
	store        *Store
	activeWindow time.Duration
}

// NewHandler creates a Handler. activeWindow bounds the derived "active"
// state tag.
func NewHandler(logger *slog.Logger, store *Store, activeWindow time.Duration) *Handler {
	return &Handler{logger: logger, store: store, activeWindow: activeWindow}
}

// HandleHello upserts a device row on the registration heartbeat. Public.
func (h *Handler) HandleHello(w http.ResponseWriter, r *http.Request) {
	var req HelloRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	d, err := h.store.UpsertHello(r.Context(), req.DeviceUID, req.FirmwareVersion, req.Capabilities)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, HelloResponse{
		DeviceID: d.ID,
		Claimed:  d.Claimed(),
	})
}

// HandleWhoami returns the identity of the calling device and refreshes its
// last_seen_at.
func (h *Handler) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireDevice(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	if err := h.store.TouchLastSeen(ctx, principal.DeviceID); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{
		"id":            principal.DeviceID,
		"device_uid":    principal.DeviceUID,
		"owner_user_id": principal.OwnerUserID,
	})
}

// HandleList returns the caller's devices with freshness and lifecycle tags.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	devices, err := h.store.ListByOwner(ctx, principal.UserID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	now := time.Now().UTC()
	ids := make([]int64, 0, len(devices))
	uids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
		uids = append(uids, d.DeviceUID)
	}

	busy, err := h.store.BusyDeviceIDs(ctx, ids, now)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	pairing, err := h.store.PairingActiveUIDs(ctx, uids, now)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	out := make([]ListItem, 0, len(devices))
	for i := range devices {
		d := &devices[i]
		health, age := Health(d.LastSeenAt, now)
		out = append(out, ListItem{
			ID:                 d.ID,
			DeviceUID:          d.DeviceUID,
			Claimed:            d.Claimed(),
			LastSeen:           d.LastSeenAt,
			Online:             Online(d.LastSeenAt, now),
			Health:             health,
			LastSeenAgeSeconds: age,
			State:              LifecycleState(d, busy[d.ID], pairing[d.DeviceUID]),
		})
	}

	httpserver.Respond(w, http.StatusOK, out)
}

// HandleGet returns a single owned device with derived states.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	deviceID, err := strconv.ParseInt(chi.URLParam(r, "deviceID"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid device ID")
		return
	}

	d, err := h.store.GetOwned(ctx, deviceID, principal.UserID)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "DEVICE_NOT_FOUND", "device not found")
		return
	}

	now := time.Now().UTC()
	busy, err := h.store.BusyDeviceIDs(ctx, []int64{d.ID}, now)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	pairing, err := h.store.PairingActiveUIDs(ctx, []string{d.DeviceUID}, now)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	health, age := Health(d.LastSeenAt, now)
	httpserver.Respond(w, http.StatusOK, DetailItem{
		ID:                 d.ID,
		DeviceUID:          d.DeviceUID,
		Name:               d.Name,
		FirmwareVersion:    d.FirmwareVersion,
		Capabilities:       d.Capabilities,
		LastSeenAt:         d.LastSeenAt,
		OwnerUserID:        d.OwnerUserID,
		IsClaimed:          d.IsClaimed,
		CreatedAt:          d.CreatedAt,
		Health:             health,
		LastSeenAgeSeconds: age,
		State:              LifecycleState(d, busy[d.ID], pairing[d.DeviceUID]),
		States:             DeriveTags(d, pairing[d.DeviceUID], now, h.activeWindow),
	})
}
