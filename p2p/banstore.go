package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const banStoreVersion = 1

// storedBan is the on-disk shape of one ban entry. Timestamps are absolute
// unix seconds so the file reloads correctly after any amount of downtime.
type storedBan struct {
	Address     string `json:"address"`
	BanCreated  int64  `json:"ban_created"`
	BannedUntil int64  `json:"banned_until"`
}

type storedBanList struct {
	Version int         `json:"version"`
	Banned  []storedBan `json:"banned"`
}

// BanStore persists the ban table to a single JSON file. Writes replace the
// file atomically via a temp file and rename, so a crash mid-save leaves the
// previous list intact.
type BanStore struct {
	path string
}

// NewBanStore binds a store to the given file path.
func NewBanStore(path string) (*BanStore, error) {
	if path == "" {
		return nil, errors.New("ban store path required")
	}
	return &BanStore{path: filepath.Clean(path)}, nil
}

// Path returns the backing file location.
func (s *BanStore) Path() string {
	return s.path
}

// Load reads the persisted ban list. A missing file yields an empty list; an
// unreadable or undecodable file wraps ErrBanStoreCorrupt so callers can
// treat it as fatal rather than silently starting empty.
func (s *BanStore) Load() ([]BanEntry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ban store %s: %w", s.path, err)
	}
	var stored storedBanList
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrBanStoreCorrupt, s.path, err)
	}
	if stored.Version != banStoreVersion {
		return nil, fmt.Errorf("%w: %s has unsupported version %d", ErrBanStoreCorrupt, s.path, stored.Version)
	}
	entries := make([]BanEntry, 0, len(stored.Banned))
	for _, rec := range stored.Banned {
		sub, err := ParseSubnet(rec.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: %s holds unparseable subnet %q", ErrBanStoreCorrupt, s.path, rec.Address)
		}
		entries = append(entries, BanEntry{
			Subnet:      sub,
			CreatedAt:   rec.BanCreated,
			BannedUntil: rec.BannedUntil,
		})
	}
	return entries, nil
}

// Save writes the full list in canonical order, atomically replacing any
// previous file. Callers are expected to pass an already-sorted snapshot.
func (s *BanStore) Save(entries []BanEntry) error {
	stored := storedBanList{Version: banStoreVersion, Banned: make([]storedBan, 0, len(entries))}
	for _, entry := range entries {
		stored.Banned = append(stored.Banned, storedBan{
			Address:     entry.Subnet.String(),
			BanCreated:  entry.CreatedAt,
			BannedUntil: entry.BannedUntil,
		})
	}
	blob, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ban store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create ban store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp ban store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write ban store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync ban store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close ban store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod ban store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace ban store: %w", err)
	}
	return nil
}
