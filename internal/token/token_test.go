package token

import (
	"errors"
	"testing"
	"time"
)

func TestGenerateAndParse(t *testing.T) {
	s, err := NewSigner("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := s.Generate("user-1", "a@b.co", "agency_admin", "org-1")
	if err != nil {
		t.Fatal(err)
	}
	claims, err := s.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
	if claims.Role != "agency_admin" || claims.OrganizationID != "org-1" {
		t.Fatalf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("jti missing")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	a, _ := NewSigner("secret-a", time.Hour)
	b, _ := NewSigner("secret-b", time.Hour)
	raw, err := a.Generate("user-1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	s, _ := NewSigner("test-secret", time.Minute)
	s.now = func() time.Time { return time.Now().UTC().Add(-time.Hour) }
	raw, err := s.Generate("user-1", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return time.Now().UTC() }
	if _, err := s.Parse(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	s, _ := NewSigner("test-secret", time.Hour)
	for _, raw := range []string{"", "   ", "not.a.token"} {
		if _, err := s.Parse(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidToken", raw, err)
		}
	}
}

func TestNewSignerValidation(t *testing.T) {
	if _, err := NewSigner("", time.Hour); err == nil {
		t.Fatal("empty secret accepted")
	}
	if _, err := NewSigner("x", 0); err == nil {
		t.Fatal("zero ttl accepted")
	}
}
