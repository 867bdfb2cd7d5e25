package allowlist

import (
	"errors"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGrantUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	g := &Grant{UserID: "u1", GrantedBy: "admin", Notes: "beta tester"}
	if err := s.Upsert(g); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for an existing grant")
	}
	if got.GrantedBy != "admin" || got.Notes != "beta tester" {
		t.Errorf("Get = %+v", got)
	}
	if got.GrantedAt.IsZero() {
		t.Error("GrantedAt should be set on insert")
	}
}

func TestGrantGetMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Get("nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for an absent grant", got)
	}
}

func TestGrantUpsertLastWriterWins(t *testing.T) {
	s := newTestStore(t)

	first := &Grant{UserID: "u1", GrantedBy: "admin", GrantedAt: time.Now().Add(-time.Hour)}
	if err := s.Upsert(first); err != nil {
		t.Fatalf("Upsert first: %v", err)
	}
	second := &Grant{UserID: "u1", GrantedBy: "stripe-webhook", Notes: "checkout session cs_1"}
	if err := s.Upsert(second); err != nil {
		t.Fatalf("Upsert second: %v", err)
	}

	got, err := s.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.GrantedBy != "stripe-webhook" || got.Notes != "checkout session cs_1" {
		t.Errorf("Get = %+v, want the second writer's values", got)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestGrantDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Upsert(&Grant{UserID: "u1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete("u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := s.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("grant still present after delete: %+v", got)
	}

	// Deleting an absent grant is a no-op.
	if err := s.Delete("u1"); err != nil {
		t.Errorf("Delete absent grant: %v", err)
	}
}

func TestGrantList(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	for i, id := range []string{"u1", "u2", "u3"} {
		g := &Grant{UserID: id, GrantedAt: now.Add(time.Duration(i) * time.Minute)}
		if err := s.Upsert(g); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d grants, want 3", len(list))
	}
	if list[0].UserID != "u3" {
		t.Errorf("List[0] = %s, want most recent first", list[0].UserID)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s := newTestStore(t)

	p := &Profile{UserID: "u1", Email: "Fan@Example.COM", DisplayName: "Fan"}
	if err := s.UpsertProfile(p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	// Lookup is case-insensitive; storage is lowercased.
	got, err := s.ProfileByEmail("FAN@example.com")
	if err != nil {
		t.Fatalf("ProfileByEmail: %v", err)
	}
	if got == nil {
		t.Fatal("ProfileByEmail returned nil")
	}
	if got.UserID != "u1" || got.Email != "fan@example.com" {
		t.Errorf("ProfileByEmail = %+v", got)
	}
}

func TestProfileByEmailMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.ProfileByEmail("nobody@example.com")
	if err != nil {
		t.Fatalf("ProfileByEmail: %v", err)
	}
	if got != nil {
		t.Errorf("ProfileByEmail = %+v, want nil", got)
	}
}

func TestProfileEmailUniqueAcrossUsers(t *testing.T) {
	s := newTestStore(t)

	if err := s.UpsertProfile(&Profile{UserID: "u1", Email: "fan@example.com"}); err != nil {
		t.Fatalf("UpsertProfile u1: %v", err)
	}
	err := s.UpsertProfile(&Profile{UserID: "u2", Email: "fan@example.com"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("err = %v, want ErrEmailTaken", err)
	}

	// Re-upserting the same user with the same email stays fine.
	if err := s.UpsertProfile(&Profile{UserID: "u1", Email: "fan@example.com", DisplayName: "Fan"}); err != nil {
		t.Errorf("UpsertProfile same user: %v", err)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	if err := s.Ping(); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
