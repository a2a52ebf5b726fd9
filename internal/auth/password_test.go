package auth

import "testing"

func TestHashDeviceToken(t *testing.T) {
	// Deterministic: same input -> same hash.
	h1 := HashDeviceToken("test-token-123")
	h2 := HashDeviceToken("test-token-123")
	if h1 != h2 {
		t.Fatalf("same token produced different hashes: %q vs %q", h1, h2)
	}

	// Different input -> different hash.
	h3 := HashDeviceToken("different-token")
	if h1 == h3 {
		t.Fatal("different tokens produced the same hash")
	}

	// SHA-256 produces a 64-char hex string.
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h1))
	}
}

func TestGenerateDeviceToken(t *testing.T) {
	t1 := GenerateDeviceToken()
	t2 := GenerateDeviceToken()
	if t1 == t2 {
		t.Fatal("two generated tokens are identical")
	}
	// 32 bytes of entropy -> 43 chars of raw URL-safe base64.
	if len(t1) != 43 {
		t.Errorf("token length = %d, want 43", len(t1))
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("HashPassword() error: %v", err)
	}
	if !VerifyPassword("hunter2hunter2", hash) {
		t.Error("correct password did not verify")
	}
	if VerifyPassword("wrong-password", hash) {
		t.Error("wrong password verified")
	}
}
