package entitlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ledgerFileName is the fixed storage key for the viewed-match ledger.
const ledgerFileName = "viewed_matches.json"

// FileLedgerStorage persists the viewed-match set as a JSON array under a
// fixed file name inside dir.
type FileLedgerStorage struct {
	path string
}

// NewFileLedgerStorage returns storage rooted at dir. The directory is
// created on first write.
func NewFileLedgerStorage(dir string) *FileLedgerStorage {
	return &FileLedgerStorage{path: filepath.Join(dir, ledgerFileName)}
}

// Load reads the persisted set. A missing file is an empty set.
func (s *FileLedgerStorage) Load() ([]ViewedMatch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}

	var entries []ViewedMatch
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode ledger file: %w", err)
	}
	return entries, nil
}

// Save atomically replaces the persisted set.
func (s *FileLedgerStorage) Save(entries []ViewedMatch) error {
	if entries == nil {
		entries = []ViewedMatch{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode ledger file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit ledger file: %w", err)
	}
	return nil
}

// Clear removes the persisted set. Clearing an absent file is a no-op.
func (s *FileLedgerStorage) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove ledger file: %w", err)
	}
	return nil
}
