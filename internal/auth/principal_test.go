package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hubex-fl/hubex/internal/httpserver"
)

func apiCode(t *testing.T, err error) string {
	t.Helper()
	var apiErr *httpserver.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v is not an APIError", err)
	}
	return apiErr.Code
}

func TestRequireUser(t *testing.T) {
	tests := []struct {
		name     string
		res      *Resolution
		wantCode string
	}{
		{"no credentials", &Resolution{}, "AUTH_REQUIRED"},
		{"expired", &Resolution{BearerPresented: true, BearerErr: ErrTokenExpired}, "AUTH_EXPIRED"},
		{"invalid", &Resolution{BearerPresented: true, BearerErr: ErrTokenInvalid}, "AUTH_INVALID"},
		{"revoked", &Resolution{BearerPresented: true, Revoked: true}, "TOKEN_REVOKED"},
		{"user missing", &Resolution{BearerPresented: true, Claims: &AccessClaims{Subject: "9"}}, "AUTH_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithResolution(context.Background(), tt.res)
			_, err := RequireUser(ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := apiCode(t, err); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}

	ctx := WithResolution(context.Background(), &Resolution{
		BearerPresented: true,
		User:            &Identity{Kind: PrincipalUser, UserID: 7},
	})
	principal, err := RequireUser(ctx)
	if err != nil {
		t.Fatalf("RequireUser() error: %v", err)
	}
	if principal.UserID != 7 {
		t.Errorf("UserID = %d, want 7", principal.UserID)
	}
}

func TestRequireDevice(t *testing.T) {
	tests := []struct {
		name     string
		res      *Resolution
		wantCode string
	}{
		{"no token", &Resolution{}, "DEVICE_TOKEN_REQUIRED"},
		{"unclaimed", &Resolution{DeviceTokenPresented: true, DeviceUnclaimed: true}, "DEVICE_UNCLAIMED"},
		{"invalid", &Resolution{DeviceTokenPresented: true, DeviceTokenInvalid: true}, "DEVICE_TOKEN_INVALID"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := WithResolution(context.Background(), tt.res)
			_, err := RequireDevice(ctx)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := apiCode(t, err); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}

	ctx := WithResolution(context.Background(), &Resolution{
		DeviceTokenPresented: true,
		Device:               &Identity{Kind: PrincipalDevice, DeviceID: 3, DeviceUID: "D1", OwnerUserID: 7},
	})
	principal, err := RequireDevice(ctx)
	if err != nil {
		t.Fatalf("RequireDevice() error: %v", err)
	}
	if principal.DeviceID != 3 || principal.DeviceUID != "D1" {
		t.Errorf("unexpected principal %+v", principal)
	}
}

func TestResolveActorPrefersUser(t *testing.T) {
	ctx := WithResolution(context.Background(), &Resolution{
		BearerPresented:      true,
		User:                 &Identity{Kind: PrincipalUser, UserID: 7},
		DeviceTokenPresented: true,
		Device:               &Identity{Kind: PrincipalDevice, DeviceID: 3},
	})
	principal, err := ResolveActor(ctx)
	if err != nil {
		t.Fatalf("ResolveActor() error: %v", err)
	}
	if principal.Kind != PrincipalUser {
		t.Errorf("Kind = %q, want user", principal.Kind)
	}
}
