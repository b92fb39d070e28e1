package utils

import (
	"testing"
)

func TestJwtRoundtrip(t *testing.T) {
	token, err := JwtGenerate("alice")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	parsed, err := JwtValidate(token)
	if err != nil {
		t.Fatalf("JwtValidate: %v", err)
	}
	if !parsed.Valid {
		t.Fatal("token reported invalid")
	}

	claim, ok := parsed.Claims.(*JwtCustomClaim)
	if !ok {
		t.Fatalf("claims have type %T", parsed.Claims)
	}
	if claim.Username != "alice" {
		t.Fatalf("username claim = %q, want alice", claim.Username)
	}
	if claim.Subject != "alice" {
		t.Fatalf("subject = %q, want alice", claim.Subject)
	}
}

func TestJwtValidateRejectsGarbage(t *testing.T) {
	if _, err := JwtValidate("not.a.token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestJwtValidateRejectsTampering(t *testing.T) {
	token, err := JwtGenerate("alice")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	parsed, err := JwtValidate(tampered)
	if err == nil && parsed.Valid {
		t.Fatal("tampered token validated")
	}
}
