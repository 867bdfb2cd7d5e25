package allowlist

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Grant is a manually- or webhook-granted premium entitlement, keyed
// uniquely by user ID. Upsert semantics: last writer wins on conflict.
type Grant struct {
	UserID    string    `json:"user_id"`
	GrantedBy string    `json:"granted_by"`
	Notes     string    `json:"notes"`
	GrantedAt time.Time `json:"granted_at"`
}

// ErrEmailTaken is returned when a profile email is already linked to a
// different user.
var ErrEmailTaken = errors.New("email already linked to another user")

// Profile maps a local identity to the email the payment provider reports
// for it.
type Profile struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store provides the allow-list and profile directory backed by SQLite.
// It is the server-owned source of truth for manual entitlements.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the allow-list database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create allowlist dir: %w", err)
	}

	dbPath := filepath.Join(dir, "grants.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open allowlist db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS grants (
		user_id    TEXT PRIMARY KEY,
		granted_by TEXT NOT NULL DEFAULT '',
		notes      TEXT NOT NULL DEFAULT '',
		granted_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS profiles (
		user_id      TEXT PRIMARY KEY,
		email        TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init allowlist schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (s *Store) Ping() error {
	return s.db.Ping()
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Upsert inserts or replaces the grant for its user ID.
func (s *Store) Upsert(g *Grant) error {
	if g == nil {
		return fmt.Errorf("grant is nil")
	}
	if strings.TrimSpace(g.UserID) == "" {
		return fmt.Errorf("grant user id is required")
	}
	if g.GrantedAt.IsZero() {
		g.GrantedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO grants (user_id, granted_by, notes, granted_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			granted_by = excluded.granted_by,
			notes      = excluded.notes,
			granted_at = excluded.granted_at`,
		g.UserID, g.GrantedBy, g.Notes, g.GrantedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert grant: %w", err)
	}
	return nil
}

// Get retrieves the grant for a user ID, or nil when none exists.
func (s *Store) Get(userID string) (*Grant, error) {
	row := s.db.QueryRow(`SELECT user_id, granted_by, notes, granted_at
		FROM grants WHERE user_id = ?`, userID)
	return scanGrant(row)
}

// Delete removes the grant for a user ID. Removing an absent grant is a
// no-op, not an error.
func (s *Store) Delete(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM grants WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}

// List returns all grants, most recent first.
func (s *Store) List() ([]*Grant, error) {
	rows, err := s.db.Query(`SELECT user_id, granted_by, notes, granted_at
		FROM grants ORDER BY granted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var grants []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// Count returns the number of grants.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM grants`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count grants: %w", err)
	}
	return n, nil
}

// UpsertProfile inserts or replaces the identity-to-email mapping.
func (s *Store) UpsertProfile(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile is nil")
	}
	if strings.TrimSpace(p.UserID) == "" || strings.TrimSpace(p.Email) == "" {
		return fmt.Errorf("profile user id and email are required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO profiles (user_id, email, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email        = excluded.email,
			display_name = excluded.display_name`,
		p.UserID, strings.ToLower(strings.TrimSpace(p.Email)), p.DisplayName, p.CreatedAt.Unix(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: profiles.email") {
			return ErrEmailTaken
		}
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// ProfileByEmail retrieves the profile for an email, or nil when no local
// identity is linked to it.
func (s *Store) ProfileByEmail(email string) (*Profile, error) {
	row := s.db.QueryRow(`SELECT user_id, email, display_name, created_at
		FROM profiles WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
	return scanProfile(row)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGrant(sc scanner) (*Grant, error) {
	var g Grant
	var grantedAt int64
	err := sc.Scan(&g.UserID, &g.GrantedBy, &g.Notes, &grantedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan grant: %w", err)
	}
	g.GrantedAt = time.Unix(grantedAt, 0).UTC()
	return &g, nil
}

func scanProfile(sc scanner) (*Profile, error) {
	var p Profile
	var createdAt int64
	err := sc.Scan(&p.UserID, &p.Email, &p.DisplayName, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &p, nil
}
