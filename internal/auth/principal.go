package auth

import (
	"context"
	"net/http"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// PrincipalKind distinguishes the two credential kinds.
type PrincipalKind string

const (
	PrincipalUser   PrincipalKind = "user"
	PrincipalDevice PrincipalKind = "device"
)

// Identity is the resolved principal for a request. Exactly one kind is set.
type Identity struct {
	Kind PrincipalKind

	// User principal
	UserID int64
	Caps   []string
	JTI    string

	// Device principal
	DeviceID    int64
	DeviceUID   string
	OwnerUserID int64
}

// Resolution records everything the principal middleware learned about the
// request's credentials, including failures, so that both the capability
// guard and the Require* helpers can report precise errors.
type Resolution struct {
	BearerPresented      bool
	DeviceTokenPresented bool

	// Claims of a syntactically valid bearer token, nil otherwise.
	Claims    *AccessClaims
	BearerErr error // ErrTokenExpired / ErrTokenInvalid
	Revoked   bool

	User   *Identity // resolved user principal
	Device *Identity // resolved device principal

	DeviceTokenInvalid bool
	DeviceUnclaimed    bool
}

type resolutionKey struct{}

// WithResolution stores the credential resolution in the context.
func WithResolution(ctx context.Context, res *Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey{}, res)
}

// ResolutionFromContext returns the credential resolution, or an empty one.
func ResolutionFromContext(ctx context.Context) *Resolution {
	if res, ok := ctx.Value(resolutionKey{}).(*Resolution); ok {
		return res
	}
	return &Resolution{}
}

// RequireUser returns the authenticated user principal or a 401 APIError.
func RequireUser(ctx context.Context) (*Identity, error) {
	res := ResolutionFromContext(ctx)
	switch {
	case !res.BearerPresented:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "AUTH_REQUIRED", "missing bearer token")
	case res.BearerErr == ErrTokenExpired:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "AUTH_EXPIRED", "token expired")
	case res.BearerErr != nil:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "AUTH_INVALID", "invalid token")
	case res.Revoked:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "TOKEN_REVOKED", "token revoked")
	case res.User == nil:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "AUTH_INVALID", "user not found")
	}
	return res.User, nil
}

// RequireDevice returns the authenticated device principal or a 401 APIError.
func RequireDevice(ctx context.Context) (*Identity, error) {
	res := ResolutionFromContext(ctx)
	switch {
	case !res.DeviceTokenPresented:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "DEVICE_TOKEN_REQUIRED", "missing device token")
	case res.DeviceUnclaimed:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "DEVICE_UNCLAIMED", "device unclaimed")
	case res.Device == nil:
		return nil, httpserver.NewAPIError(http.StatusUnauthorized, "DEVICE_TOKEN_INVALID", "invalid device token")
	}
	return res.Device, nil
}

// ResolveActor returns whichever principal authenticated, preferring the
// user. Used by endpoints that accept either kind.
func ResolveActor(ctx context.Context) (*Identity, error) {
	res := ResolutionFromContext(ctx)
	if res.BearerPresented {
		return RequireUser(ctx)
	}
	if res.DeviceTokenPresented {
		return RequireDevice(ctx)
	}
	return nil, httpserver.NewAPIError(http.StatusUnauthorized, "AUTH_REQUIRED", "authentication required")
}
