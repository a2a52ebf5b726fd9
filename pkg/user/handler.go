package user

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hubex-fl/hubex/internal/auth"
	"github.com/hubex-fl/hubex/internal/httpserver"
)

// Handler provides the register/login endpoints.
type Handler struct {
	logger *slog.Logger
	store  *Store
	tokens *auth.TokenManager
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, store *Store, tokens *auth.TokenManager) *Handler {
	return &Handler{logger: logger, store: store, tokens: tokens}
}

// Routes returns a chi.Router with auth routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/register", h.handleRegister)
	r.Post("/login", h.handleLogin)
	return r
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CredentialsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	existing, err := h.store.GetByEmail(ctx, req.Email)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if existing != nil {
		httpserver.RespondError(w, http.StatusConflict, "EMAIL_TAKEN", "email already registered")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	u, err := h.store.Create(ctx, req.Email, hash)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}

	h.respondToken(w, u)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CredentialsRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	u, err := h.store.GetByEmail(ctx, req.Email)
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	if u == nil || !auth.VerifyPassword(req.Password, u.PasswordHash) {
		httpserver.RespondError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
		return
	}

	h.respondToken(w, u)
}

func (h *Handler) respondToken(w http.ResponseWriter, u *User) {
	token, err := h.tokens.Issue(strconv.FormatInt(u.ID, 10), "", auth.DefaultUserCaps())
	if err != nil {
		httpserver.RespondAPIError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	})
}
