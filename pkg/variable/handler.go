package variable

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
)

// Handler provides the /variables endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	pool    *pgxpool.Pool
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, service *Service, pool *pgxpool.Pool) *Handler {
	return &Handler{logger: logger, service: service, pool: pool}
}

// Routes returns a chi.Router with variable routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/definitions", h.handleListDefinitions)
	r.Post("/definitions", h.handleCreateDefinition)
	r.Get("/value", h.handleGetValue)
	r.Put("/value", h.handlePutValue)
	r.Post("/set", h.handleSet)
	r.Get("/device/{deviceUID}", h.handleDeviceValues)
	r.Get("/effective", h.handleEffective)
	r.Get("/snapshot", h.handleSnapshot)
	r.Post("/applied", h.handleApplied)
	r.Get("/applied", h.handleListApplied)
	r.Get("/audit", h.handleAudit)
	r.Get("/effects", h.handleListEffects)
	r.Get("/effects/{effectID}", h.handleGetEffect)
	r.Post("/effects/run-once", h.handleRunEffects)
	return r
}

func (h *Handler) handleListDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	items, err := h.service.ListDefinitions(ctx, r.URL.Query().Get("scope"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleCreateDefinition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if !h.service.DevToolsEnabled() {
		httpserver.RespondError(w, http.StatusForbidden, "DEV_TOOLS_DISABLED", "dev tools disabled")
		return
	}

	var req DefinitionRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	def, err := h.service.CreateDefinition(ctx, &req)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, def)
}

func (h *Handler) handleGetValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	key := r.URL.Query().Get("key")
	scope := r.URL.Query().Get("scope")
	if key == "" || scope == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "key and scope are required")
		return
	}
	deviceUID := r.URL.Query().Get("deviceUid")
	if deviceUID == "" {
		deviceUID = r.URL.Query().Get("device_uid")
	}

	view, err := h.service.GetValue(ctx, principal.UserID, key, scope, deviceUID, false)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

// ValueWriteRequest is the body of PUT /variables/value.
type ValueWriteRequest struct {
	Key             string          `json:"key" validate:"required,min=1,max=128"`
	Scope           string          `json:"scope" validate:"required,oneof=global user device"`
	DeviceUID       string          `json:"device_uid"`
	Value           json.RawMessage `json:"value"`
	ExpectedVersion *int            `json:"expected_version"`
}

// SetRequest is the body of POST /variables/set.
type SetRequest struct {
	ValueWriteRequest
	Force bool `json:"force"`
}

func (h *Handler) handlePutValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var req ValueWriteRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	h.write(w, r, principal, &req, false)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.ResolveActor(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var req SetRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	h.write(w, r, principal, &req.ValueWriteRequest, req.Force)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, principal *auth.Identity, req *ValueWriteRequest, force bool) {
	value, err := DecodeValue(req.Value)
	if err != nil {
		httpserver.RespondError(w, http.StatusUnprocessableEntity, "VAR_INVALID_TYPE", "invalid value")
		return
	}

	var requestID *string
	if id := httpserver.RequestIDFromContext(r.Context()); id != "" {
		requestID = &id
	}

	def, written, err := h.service.Write(r.Context(), &WriteParams{
		Key:             req.Key,
		Scope:           req.Scope,
		DeviceUID:       req.DeviceUID,
		Value:           value,
		ExpectedVersion: req.ExpectedVersion,
		Actor:           principal,
		Force:           force,
		RequestID:       requestID,
	})
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	var deviceUID *string
	if req.DeviceUID != "" {
		deviceUID = &req.DeviceUID
	}
	httpserver.Respond(w, http.StatusOK, ValueView{
		Key:       def.Key,
		Scope:     def.Scope,
		DeviceUID: deviceUID,
		Value:     MaskIfSecret(def, written.ValueJSON),
		Version:   &written.Version,
		UpdatedAt: &written.UpdatedAt,
		IsSecret:  def.IsSecret,
	})
}

func (h *Handler) handleDeviceValues(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	view, err := h.service.ListDeviceValues(ctx, chi.URLParam(r, "deviceUID"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

func (h *Handler) handleEffective(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, err := auth.RequireUser(ctx)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	deviceUID := r.URL.Query().Get("deviceUid")
	if deviceUID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "deviceUid is required")
		return
	}

	view, err := h.service.Effective(ctx, principal.UserID, deviceUID, httpserver.QueryBool(r, "includeSecrets"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, view)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := auth.ResolutionFromContext(ctx)

	deviceUID := r.URL.Query().Get("deviceUid")

	var userID int64
	switch {
	case res.DeviceTokenPresented:
		// A device resolves its own snapshot against its owner.
		principal, err := auth.RequireDevice(ctx)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, err)
			return
		}
		if deviceUID == "" {
			deviceUID = principal.DeviceUID
		}
		if deviceUID != principal.DeviceUID {
			httpserver.RespondError(w, http.StatusForbidden, "VAR_NOT_ALLOWED", "device uid mismatch")
			return
		}
		userID = principal.OwnerUserID
	default:
		principal, err := auth.RequireUser(ctx)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, err)
			return
		}
		if deviceUID == "" {
			httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "deviceUid is required")
			return
		}
		userID = principal.UserID
	}

	result, err := h.service.ResolveSnapshot(ctx, userID, deviceUID, httpserver.QueryBool(r, "includeSecrets"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleApplied(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := auth.ResolutionFromContext(ctx)

	var req AppliedRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	var deviceID int64
	switch {
	case res.DeviceTokenPresented:
		principal, err := auth.RequireDevice(ctx)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, err)
			return
		}
		if req.DeviceUID != "" && req.DeviceUID != principal.DeviceUID {
			httpserver.RespondError(w, http.StatusConflict, "VAR_NOT_ALLOWED", "device uid mismatch")
			return
		}
		deviceID = principal.DeviceID
	default:
		// A user may ack on behalf of an owned device.
		principal, err := auth.RequireUser(ctx)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, err)
			return
		}
		if req.DeviceUID == "" {
			httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "device_uid is required")
			return
		}
		d, err := h.service.ownedDevice(ctx, principal.UserID, req.DeviceUID)
		if err != nil {
			httpserver.RespondAPIError(w, h.logger, err)
			return
		}
		deviceID = d.ID
	}

	result, err := h.service.RecordApplied(ctx, deviceID, &req)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleListApplied(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	deviceUID := r.URL.Query().Get("deviceUid")
	if deviceUID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "deviceUid is required")
		return
	}
	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)

	items, err := h.service.ListApplied(ctx, deviceUID, limit)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "BAD_REQUEST", "key is required")
		return
	}
	deviceUID := r.URL.Query().Get("deviceUid")
	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)
	offset := httpserver.QueryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	items, uidByID, err := h.service.ListAudit(ctx, key, r.URL.Query().Get("scope"), deviceUID, limit, offset)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	type auditOut struct {
		Audit
		DeviceUID *string `json:"device_uid"`
	}
	out := make([]auditOut, 0, len(items))
	for _, item := range items {
		entry := auditOut{Audit: item}
		if item.DeviceID != nil {
			if uid, ok := uidByID[*item.DeviceID]; ok {
				entry.DeviceUID = &uid
			}
		}
		out = append(out, entry)
	}
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleListEffects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 100), 1, 500)
	items, err := NewStore(h.pool).ListEffects(ctx, r.URL.Query().Get("status"), r.URL.Query().Get("kind"), nil, limit)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, items)
}

func (h *Handler) handleGetEffect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	effect, err := NewStore(h.pool).GetEffect(ctx, chi.URLParam(r, "effectID"))
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if effect == nil {
		httpserver.RespondError(w, http.StatusNotFound, "EFFECT_NOT_FOUND", "effect not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, effect)
}

func (h *Handler) handleRunEffects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, err := auth.RequireUser(ctx); err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if !h.service.DevToolsEnabled() {
		httpserver.RespondError(w, http.StatusForbidden, "DEV_TOOLS_DISABLED", "dev tools disabled")
		return
	}

	limit := httpserver.ClampInt(httpserver.QueryInt(r, "limit", 50), 1, 200)
	result, err := RunEffectsOnce(ctx, h.pool, limit, "api")
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}
