package auth

import (
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	tm := NewTokenManager("0123456789abcdef0123456789abcdef", "hubex", time.Hour)

	token, err := tm.Issue("42", "jti-1", []string{"vars.read", "tasks.write"})
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	claims, err := tm.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "42" {
		t.Errorf("Subject = %q, want %q", claims.Subject, "42")
	}
	if claims.JTI != "jti-1" {
		t.Errorf("JTI = %q, want %q", claims.JTI, "jti-1")
	}
	if len(claims.Caps) != 2 || claims.Caps[0] != "vars.read" {
		t.Errorf("Caps = %v, want [vars.read tasks.write]", claims.Caps)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("0123456789abcdef0123456789abcdef", "hubex", time.Hour)
	verifier := NewTokenManager("another-secret-another-secret-xx", "hubex", time.Hour)

	token, err := issuer.Issue("1", "", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := verifier.Verify(token); err != ErrTokenInvalid {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsWrongIssuer(t *testing.T) {
	issuer := NewTokenManager("0123456789abcdef0123456789abcdef", "other", time.Hour)
	verifier := NewTokenManager("0123456789abcdef0123456789abcdef", "hubex", time.Hour)

	token, err := issuer.Issue("1", "", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := verifier.Verify(token); err != ErrTokenInvalid {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	tm := NewTokenManager("0123456789abcdef0123456789abcdef", "hubex", -time.Hour)

	token, err := tm.Issue("1", "", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	if _, err := tm.Verify(token); err != ErrTokenExpired {
		t.Errorf("Verify() error = %v, want ErrTokenExpired", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("0123456789abcdef0123456789abcdef", "hubex", time.Hour)
	if _, err := tm.Verify("not-a-jwt"); err != ErrTokenInvalid {
		t.Errorf("Verify() error = %v, want ErrTokenInvalid", err)
	}
}
