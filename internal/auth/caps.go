package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

// routeKey identifies a route by method and chi route pattern.
type routeKey struct {
	method  string
	pattern string
}

// capabilityRegistry is the compile-time set of known capability names.
// Append-only.
var capabilityRegistry = map[string]struct{}{
	"core.auth.register": {},
	"core.auth.login":    {},
	"devices.hello":      {},
	"devices.read":       {},
	"devices.write":      {},
	"pairing.start":      {},
	"pairing.confirm":    {},
	"telemetry.emit":     {},
	"telemetry.read":     {},
	"tasks.read":         {},
	"tasks.write":        {},
	"vars.read":          {},
	"vars.write":         {},
	"vars.ack":           {},
	"effects.read":       {},
}

// capabilityMap declares the required capability set per route.
var capabilityMap = map[routeKey][]string{
	{"POST", "/api/v1/auth/register"}: {"core.auth.register"},
	{"POST", "/api/v1/auth/login"}:    {"core.auth.login"},

	{"POST", "/api/v1/devices/hello"}:                              {"devices.hello"},
	{"GET", "/api/v1/devices/whoami"}:                              {"devices.read"},
	{"GET", "/api/v1/devices"}:                                     {"devices.read"},
	{"GET", "/api/v1/devices/{deviceID}"}:                          {"devices.read"},
	{"GET", "/api/v1/devices/{deviceID}/telemetry/recent"}:         {"telemetry.read"},
	{"GET", "/api/v1/devices/{deviceID}/telemetry"}:                {"telemetry.read"},
	{"GET", "/api/v1/devices/{deviceID}/telemetry/ws"}:             {"telemetry.read"},
	{"POST", "/api/v1/devices/{deviceID}/tasks"}:                   {"tasks.write"},
	{"GET", "/api/v1/devices/{deviceID}/tasks"}:                    {"tasks.read"},
	{"GET", "/api/v1/devices/{deviceID}/current-task"}:             {"tasks.read"},
	{"GET", "/api/v1/devices/{deviceID}/task-history"}:             {"tasks.read"},
	{"POST", "/api/v1/devices/{deviceID}/tasks/{taskID}/cancel"}:   {"tasks.write"},

	{"POST", "/api/v1/pairing/start"}:   {"pairing.start"},
	{"POST", "/api/v1/pairing/confirm"}: {"pairing.confirm"},

	{"POST", "/api/v1/telemetry"}:       {"telemetry.emit"},
	{"GET", "/api/v1/telemetry/recent"}: {"telemetry.read"},

	{"POST", "/api/v1/tasks/context/heartbeat"}: {"tasks.write"},
	{"POST", "/api/v1/tasks/poll"}:              {"tasks.read"},
	{"POST", "/api/v1/tasks/{taskID}/complete"}: {"tasks.write"},
	{"POST", "/api/v1/tasks/{taskID}/renew"}:    {"tasks.write"},

	{"GET", "/api/v1/variables/definitions"}:          {"vars.read"},
	{"POST", "/api/v1/variables/definitions"}:         {"vars.write"},
	{"GET", "/api/v1/variables/value"}:                {"vars.read"},
	{"PUT", "/api/v1/variables/value"}:                {"vars.write"},
	{"POST", "/api/v1/variables/set"}:                 {"vars.write"},
	{"GET", "/api/v1/variables/device/{deviceUID}"}:   {"vars.read"},
	{"GET", "/api/v1/variables/effective"}:            {"vars.read"},
	{"GET", "/api/v1/variables/snapshot"}:             {"vars.read"},
	{"POST", "/api/v1/variables/applied"}:             {"vars.ack"},
	{"GET", "/api/v1/variables/applied"}:              {"vars.read"},
	{"GET", "/api/v1/variables/audit"}:                {"vars.read"},
	{"GET", "/api/v1/variables/effects"}:              {"vars.read"},
	{"GET", "/api/v1/variables/effects/{effectID}"}:   {"vars.read"},
	{"POST", "/api/v1/variables/effects/run-once"}:    {"vars.write"},
}

// publicWhitelist names the routes that require no authentication. The
// WebSocket attach route is listed because it authenticates via a query
// token inside the handler.
var publicWhitelist = map[routeKey]struct{}{
	{"POST", "/api/v1/devices/hello"}:                  {},
	{"POST", "/api/v1/pairing/confirm"}:                {},
	{"POST", "/api/v1/auth/register"}:                  {},
	{"POST", "/api/v1/auth/login"}:                     {},
	{"GET", "/api/v1/devices/{deviceID}/telemetry/ws"}: {},
}

// deviceCaps is the capability set a device principal implicitly holds.
var deviceCaps = []string{
	"devices.read",
	"tasks.read",
	"tasks.write",
	"telemetry.emit",
	"telemetry.read",
	"vars.read",
	"vars.write",
	"vars.ack",
}

// DeviceCaps returns the implicit device capability set.
func DeviceCaps() []string {
	out := make([]string, len(deviceCaps))
	copy(out, deviceCaps)
	return out
}

// DefaultUserCaps is the capability set embedded in tokens minted at
// register/login.
func DefaultUserCaps() []string {
	return []string{
		"core.auth.register",
		"core.auth.login",
		"devices.read",
		"devices.write",
		"pairing.start",
		"tasks.read",
		"tasks.write",
		"telemetry.read",
		"vars.read",
		"vars.write",
		"vars.ack",
		"effects.read",
	}
}

// UnknownCaps returns the subset of caps not present in the registry.
func UnknownCaps(caps []string) []string {
	var unknown []string
	for _, cap := range caps {
		if _, ok := capabilityRegistry[cap]; !ok {
			unknown = append(unknown, cap)
		}
	}
	return unknown
}

// RequiredCaps resolves the required capability set for a route, or nil when
// the route has no mapping.
func RequiredCaps(method, pattern string) ([]string, bool) {
	caps, ok := capabilityMap[routeKey{method: strings.ToUpper(method), pattern: pattern}]
	return caps, ok
}

// IsPublicRoute reports whether the route is on the auth-free whitelist.
func IsPublicRoute(method, pattern string) bool {
	_, ok := publicWhitelist[routeKey{method: strings.ToUpper(method), pattern: pattern}]
	return ok
}

func capsCover(required, held []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, c := range held {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}

// CapabilityGuard enforces the per-route capability declarations. With
// enforcement off it logs violations and lets requests through; a revoked
// token is rejected either way.
type CapabilityGuard struct {
	enforce bool
	logger  *slog.Logger
	router  chi.Routes
}

// NewCapabilityGuard creates a guard. Call SetRouter once routes are mounted
// so the guard can resolve request paths to route patterns.
func NewCapabilityGuard(enforce bool, logger *slog.Logger) *CapabilityGuard {
	return &CapabilityGuard{enforce: enforce, logger: logger}
}

// SetRouter hands the guard the fully built router for pattern matching.
func (g *CapabilityGuard) SetRouter(router chi.Routes) {
	g.router = router
}

// routePattern resolves the request to its chi route pattern, falling back
// to the raw path for unmatched requests.
func (g *CapabilityGuard) routePattern(r *http.Request) string {
	if g.router == nil {
		return r.URL.Path
	}
	tctx := chi.NewRouteContext()
	if g.router.Match(tctx, r.Method, r.URL.Path) {
		if p := tctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

// Middleware is the guard's http middleware. It only inspects /api/v1 paths.
func (g *CapabilityGuard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/v1/") {
			next.ServeHTTP(w, r)
			return
		}

		method := strings.ToUpper(r.Method)
		pattern := g.routePattern(r)

		required, mapped := RequiredCaps(method, pattern)
		if !mapped {
			if g.enforce {
				httpserver.RespondError(w, http.StatusForbidden, "CAP_MAPPING_MISSING", "capability mapping missing")
				return
			}
			g.logger.Warn("CAP_MAPPING_MISSING", "method", method, "path", pattern)
			next.ServeHTTP(w, r)
			return
		}

		if IsPublicRoute(method, pattern) {
			next.ServeHTTP(w, r)
			return
		}

		res := ResolutionFromContext(r.Context())

		if res.DeviceTokenPresented && capsCover(required, deviceCaps) {
			next.ServeHTTP(w, r)
			return
		}

		if !res.BearerPresented {
			if g.enforce {
				httpserver.RespondError(w, http.StatusUnauthorized, "CAP_AUTH_REQUIRED", "missing bearer token")
				return
			}
			g.logger.Warn("CAP_AUTH_MISSING", "method", method, "path", pattern)
			next.ServeHTTP(w, r)
			return
		}

		if res.BearerErr != nil {
			if g.enforce {
				code := "CAP_AUTH_INVALID"
				httpserver.RespondError(w, http.StatusUnauthorized, code, res.BearerErr.Error())
				return
			}
			g.logger.Warn("CAP_AUTH_INVALID", "method", method, "path", pattern)
			next.ServeHTTP(w, r)
			return
		}

		if res.Revoked {
			httpserver.RespondError(w, http.StatusUnauthorized, "CAP_TOKEN_REVOKED", "token revoked")
			return
		}

		var caps []string
		if res.Claims != nil {
			caps = res.Claims.Caps
		}

		if unknown := UnknownCaps(caps); len(unknown) > 0 {
			if g.enforce {
				httpserver.RespondError(w, http.StatusForbidden, "CAP_UNKNOWN", "unknown capability")
				return
			}
			g.logger.Warn("CAP_UNKNOWN", "method", method, "path", pattern, "caps", unknown)
			next.ServeHTTP(w, r)
			return
		}

		if !capsCover(required, caps) {
			if g.enforce {
				httpserver.RespondError(w, http.StatusForbidden, "CAP_FORBIDDEN", "insufficient capability")
				return
			}
			g.logger.Warn("CAP_FORBIDDEN", "method", method, "path", pattern, "required", required)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r)
	})
}
