package ingest

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func TestValidatePayload(t *testing.T) {
	longKey := strings.Repeat("k", 65)
	okKey := strings.Repeat("k", 64)

	tests := []struct {
		name       string
		payload    string
		wantCode   string
		wantStatus int
	}{
		{"object ok", `{"temp": 21.5, "nested": {"ok": true}}`, "", 0},
		{"max length key ok", `{"` + okKey + `": 1}`, "", 0},
		{"array rejected", `[1, 2, 3]`, "INVALID_PAYLOAD", http.StatusUnprocessableEntity},
		{"scalar rejected", `42`, "INVALID_PAYLOAD", http.StatusUnprocessableEntity},
		{"null rejected", `null`, "INVALID_PAYLOAD", http.StatusUnprocessableEntity},
		{"long key rejected", `{"` + longKey + `": 1}`, "INVALID_PAYLOAD", http.StatusUnprocessableEntity},
		{"nested long key rejected", `{"a": {"b": [{"` + longKey + `": 1}]}}`, "INVALID_PAYLOAD", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(json.RawMessage(tt.payload))
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if err.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", err.Code, tt.wantCode)
			}
			if err.Status != tt.wantStatus {
				t.Errorf("status = %d, want %d", err.Status, tt.wantStatus)
			}
		})
	}
}

func TestValidatePayloadSizeCap(t *testing.T) {
	big := `{"data": "` + strings.Repeat("x", MaxPayloadBytes) + `"}`
	err := ValidatePayload(json.RawMessage(big))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if err.Status != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", err.Status)
	}
	if err.Code != "PAYLOAD_TOO_LARGE" {
		t.Errorf("code = %q, want PAYLOAD_TOO_LARGE", err.Code)
	}
}
