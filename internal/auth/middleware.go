package auth

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// DeviceTokenHeader carries the opaque device credential.
const DeviceTokenHeader = "X-Device-Token"

// Principal resolves the request's credentials into a Resolution stored on
// the context. It never rejects the request itself; Require* helpers and the
// capability guard decide what a missing or broken credential means for the
// route at hand.
func Principal(tm *TokenManager, store *Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			res := &Resolution{}

			if raw := bearerToken(r); raw != "" {
				res.BearerPresented = true
				claims, err := tm.Verify(raw)
				if err != nil {
					res.BearerErr = err
				} else {
					res.Claims = claims
					if claims.JTI != "" {
						revoked, err := store.IsTokenRevoked(ctx, claims.JTI)
						if err != nil {
							logger.Error("revocation check", "error", err)
						}
						res.Revoked = revoked
					}
					if !res.Revoked {
						if userID, err := strconv.ParseInt(claims.Subject, 10, 64); err == nil {
							exists, err := store.UserExists(ctx, userID)
							if err != nil {
								logger.Error("user lookup", "error", err)
							}
							if exists {
								res.User = &Identity{
									Kind:   PrincipalUser,
									UserID: userID,
									Caps:   claims.Caps,
									JTI:    claims.JTI,
								}
							}
						}
					}
				}
			}

			if plain := r.Header.Get(DeviceTokenHeader); plain != "" {
				res.DeviceTokenPresented = true
				principal, err := store.ResolveDeviceToken(ctx, plain)
				if err != nil {
					logger.Error("device token lookup", "error", err)
				}
				switch {
				case principal == nil:
					res.DeviceTokenInvalid = true
				case principal.OwnerUserID == nil:
					res.DeviceUnclaimed = true
				default:
					res.Device = &Identity{
						Kind:        PrincipalDevice,
						DeviceID:    principal.DeviceID,
						DeviceUID:   principal.DeviceUID,
						OwnerUserID: *principal.OwnerUserID,
						Caps:        DeviceCaps(),
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(WithResolution(ctx, res)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
