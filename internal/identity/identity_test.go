package identity

import (
	"errors"
	"testing"
	"time"
)

func TestResolveRoundTrip(t *testing.T) {
	r := NewResolver("secret")

	token, err := r.Issue(Identity{UserID: "u1", Email: "Fan@Example.com"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	ident, err := r.Resolve("Bearer " + token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ident.UserID != "u1" {
		t.Errorf("UserID = %q", ident.UserID)
	}
	if ident.Email != "fan@example.com" {
		t.Errorf("Email = %q, want lowercased", ident.Email)
	}
}

func TestResolveErrors(t *testing.T) {
	r := NewResolver("secret")

	t.Run("empty header", func(t *testing.T) {
		if _, err := r.Resolve(""); !errors.Is(err, ErrNoCredential) {
			t.Errorf("err = %v, want ErrNoCredential", err)
		}
	})

	t.Run("not a bearer scheme", func(t *testing.T) {
		if _, err := r.Resolve("Basic dXNlcjpwYXNz"); !errors.Is(err, ErrNoCredential) {
			t.Errorf("err = %v, want ErrNoCredential", err)
		}
	})

	t.Run("garbage token", func(t *testing.T) {
		if _, err := r.Resolve("Bearer not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := NewResolver("different-secret")
		token, err := other.Issue(Identity{UserID: "u1"}, time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := r.Resolve("Bearer " + token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := r.Issue(Identity{UserID: "u1"}, time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		late := NewResolver("secret")
		late.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		if _, err := late.Resolve("Bearer " + token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		token, err := r.Issue(Identity{Email: "fan@example.com"}, time.Hour)
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if _, err := r.Resolve("Bearer " + token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})
}
