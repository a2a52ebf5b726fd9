package httpserver

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sampleRequest struct {
	DeviceUID string `json:"device_uid" validate:"required,min=4,max=128"`
	Priority  int    `json:"priority" validate:"gte=0,lte=10"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid object", `{"device_uid": "dev-0001"}`, false},
		{"empty body", ``, true},
		{"broken json", `{"device_uid":`, true},
		{"trailing data", `{"device_uid": "dev-0001"} {"again": true}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))
			var dst sampleRequest
			err := Decode(r, &dst)
			if (err != nil) != tt.wantErr {
				t.Errorf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	// camelCase aliases and extra fields from clients must not break decoding.
	r := httptest.NewRequest("POST", "/", strings.NewReader(`{"device_uid": "dev-0001", "extra": 1}`))
	var dst sampleRequest
	if err := Decode(r, &dst); err != nil {
		t.Errorf("Decode() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	if errs := Validate(&sampleRequest{DeviceUID: "dev-0001", Priority: 5}); len(errs) != 0 {
		t.Errorf("valid struct produced errors: %v", errs)
	}

	errs := Validate(&sampleRequest{DeviceUID: "ab", Priority: 11})
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	if errs[0].Field != "device_uid" {
		t.Errorf("field = %q, want device_uid", errs[0].Field)
	}
}

func TestValidateJSONObject(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantStatus int
	}{
		{"object ok", `{"a": 1}`, 0},
		{"empty object ok", `{}`, 0},
		{"array rejected", `[1]`, http.StatusUnprocessableEntity},
		{"string rejected", `"x"`, http.StatusUnprocessableEntity},
		{"null rejected", `null`, http.StatusUnprocessableEntity},
		{"oversized rejected", `{"data": "` + strings.Repeat("x", MaxJSONObjectBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJSONObject([]byte(tt.raw), "payload")
			if tt.wantStatus == 0 {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", err.Status, tt.wantStatus)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DeviceUID", "device_uid"},
		{"PairingCode", "pairing_code"},
		{"ExpectedVersion", "expected_version"},
		{"Key", "key"},
	}
	for _, tt := range tests {
		if got := toSnakeCase(tt.in); got != tt.want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(0, 1, 50); got != 1 {
		t.Errorf("ClampInt(0) = %d, want 1", got)
	}
	if got := ClampInt(100, 1, 50); got != 50 {
		t.Errorf("ClampInt(100) = %d, want 50", got)
	}
	if got := ClampInt(25, 1, 50); got != 25 {
		t.Errorf("ClampInt(25) = %d, want 25", got)
	}
}
