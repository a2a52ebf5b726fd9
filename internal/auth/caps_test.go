package auth

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRequiredCaps(t *testing.T) {
	tests := []struct {
		method  string
		pattern string
		want    []string
		mapped  bool
	}{
		{"POST", "/api/v1/tasks/poll", []string{"tasks.read"}, true},
		{"POST", "/api/v1/pairing/confirm", []string{"pairing.confirm"}, true},
		{"PUT", "/api/v1/variables/value", []string{"vars.write"}, true},
		{"GET", "/api/v1/does-not-exist", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.pattern, func(t *testing.T) {
			caps, mapped := RequiredCaps(tt.method, tt.pattern)
			if mapped != tt.mapped {
				t.Fatalf("mapped = %v, want %v", mapped, tt.mapped)
			}
			if mapped && (len(caps) != len(tt.want) || caps[0] != tt.want[0]) {
				t.Errorf("caps = %v, want %v", caps, tt.want)
			}
		})
	}
}

func TestEveryMappedCapIsRegistered(t *testing.T) {
	for route, caps := range capabilityMap {
		if unknown := UnknownCaps(caps); len(unknown) > 0 {
			t.Errorf("route %s %s requires unregistered caps %v", route.method, route.pattern, unknown)
		}
	}
}

func TestDeviceAndUserCapsAreRegistered(t *testing.T) {
	if unknown := UnknownCaps(DeviceCaps()); len(unknown) > 0 {
		t.Errorf("device caps contain unregistered names %v", unknown)
	}
	if unknown := UnknownCaps(DefaultUserCaps()); len(unknown) > 0 {
		t.Errorf("default user caps contain unregistered names %v", unknown)
	}
}

func TestIsPublicRoute(t *testing.T) {
	if !IsPublicRoute("POST", "/api/v1/devices/hello") {
		t.Error("devices/hello should be public")
	}
	if !IsPublicRoute("POST", "/api/v1/pairing/confirm") {
		t.Error("pairing/confirm should be public")
	}
	if IsPublicRoute("POST", "/api/v1/tasks/poll") {
		t.Error("tasks/poll should not be public")
	}
}

func TestCapsCover(t *testing.T) {
	tests := []struct {
		name     string
		required []string
		held     []string
		want     bool
	}{
		{"exact", []string{"vars.read"}, []string{"vars.read"}, true},
		{"superset", []string{"vars.read"}, []string{"vars.read", "vars.write"}, true},
		{"missing", []string{"vars.read", "vars.write"}, []string{"vars.read"}, false},
		{"empty required", nil, nil, true},
		{"empty held", []string{"vars.read"}, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := capsCover(tt.required, tt.held); got != tt.want {
				t.Errorf("capsCover(%v, %v) = %v, want %v", tt.required, tt.held, got, tt.want)
			}
		})
	}
}

func guardedRouter(t *testing.T, enforce bool, res *Resolution) http.Handler {
	t.Helper()

	guard := NewCapabilityGuard(enforce, slog.Default())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(WithResolution(req.Context(), res)))
		})
	})
	r.Use(guard.Middleware)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/tasks/poll", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Post("/pairing/confirm", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
		r.Get("/unmapped", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	})
	guard.SetRouter(r)
	return r
}

func TestGuardPublicRouteAllows(t *testing.T) {
	h := guardedRouter(t, true, &Resolution{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/pairing/confirm", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGuardUnmappedRoute(t *testing.T) {
	// Enforcement off: warn and allow.
	h := guardedRouter(t, false, &Resolution{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/unmapped", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("unenforced status = %d, want 200", rec.Code)
	}

	// Enforcement on: 403.
	h = guardedRouter(t, true, &Resolution{})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/unmapped", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("enforced status = %d, want 403", rec.Code)
	}
}

func TestGuardDeviceCapsCoverRoute(t *testing.T) {
	h := guardedRouter(t, true, &Resolution{DeviceTokenPresented: true})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGuardMissingBearer(t *testing.T) {
	h := guardedRouter(t, true, &Resolution{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGuardInsufficientCaps(t *testing.T) {
	res := &Resolution{
		BearerPresented: true,
		Claims:          &AccessClaims{Subject: "1", Caps: []string{"vars.read"}},
	}
	h := guardedRouter(t, true, res)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGuardUnknownCap(t *testing.T) {
	res := &Resolution{
		BearerPresented: true,
		Claims:          &AccessClaims{Subject: "1", Caps: []string{"tasks.read", "made.up"}},
	}
	h := guardedRouter(t, true, res)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestGuardRevokedTokenRejectedEvenUnenforced(t *testing.T) {
	res := &Resolution{
		BearerPresented: true,
		Claims:          &AccessClaims{Subject: "1", Caps: []string{"tasks.read"}},
		Revoked:         true,
	}
	h := guardedRouter(t, false, res)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGuardSufficientCaps(t *testing.T) {
	res := &Resolution{
		BearerPresented: true,
		Claims:          &AccessClaims{Subject: "1", Caps: []string{"tasks.read"}},
		User:            &Identity{Kind: PrincipalUser, UserID: 1, Caps: []string{"tasks.read"}},
	}
	h := guardedRouter(t, true, res)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/tasks/poll", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
