package pairing

import (
	"strings"
	"testing"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := GenerateCode()
		if len(code) != codeLength {
			t.Fatalf("code length = %d, want %d", len(code), codeLength)
		}
		for _, r := range code {
			if !strings.ContainsRune(codeAlphabet, r) {
				t.Fatalf("code %q contains %q outside the alphabet", code, r)
			}
		}
		seen[code] = true
	}
	// With 32^8 possibilities, 100 draws must not collide.
	if len(seen) != 100 {
		t.Errorf("generated %d distinct codes out of 100", len(seen))
	}
}

func TestCodeAlphabetAvoidsAmbiguity(t *testing.T) {
	for _, forbidden := range "O0I1" {
		if strings.ContainsRune(codeAlphabet, forbidden) {
			t.Errorf("alphabet contains ambiguous character %q", forbidden)
		}
	}
	// Uniform masking relies on a 32-symbol alphabet.
	if len(codeAlphabet) != 32 {
		t.Errorf("alphabet length = %d, want 32", len(codeAlphabet))
	}
}

func TestConfirmRequestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		req      ConfirmRequest
		wantUID  string
		wantCode string
	}{
		{
			name:     "snake case",
			req:      ConfirmRequest{DeviceUID: "D1", PairingCode: "P1"},
			wantUID:  "D1",
			wantCode: "P1",
		},
		{
			name:     "camel case",
			req:      ConfirmRequest{DeviceUIDCamel: "D2", PairingCodeCamel: "P2"},
			wantUID:  "D2",
			wantCode: "P2",
		},
		{
			name:     "snake wins over camel",
			req:      ConfirmRequest{DeviceUID: "D1", DeviceUIDCamel: "D2", PairingCode: "P1", PairingCodeCamel: "P2"},
			wantUID:  "D1",
			wantCode: "P1",
		},
		{
			name: "empty",
			req:  ConfirmRequest{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			uid, code := tt.req.Normalize()
			if uid != tt.wantUID || code != tt.wantCode {
				t.Errorf("Normalize() = (%q, %q), want (%q, %q)", uid, code, tt.wantUID, tt.wantCode)
			}
		})
	}
}
