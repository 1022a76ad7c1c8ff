package p2p

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
)

// PeerstoreEntry is the dial metadata persisted per peer address.
type PeerstoreEntry struct {
	Addr      string    `json:"addr"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Fails     int       `json:"fails"`
}

// Peerstore is a concurrency-safe persistent record of peers the node has
// seen, backed by LevelDB. The registry updates it on admission, teardown
// and refused connection attempts; the operator surface reads it back to
// enrich peer listings.
type Peerstore struct {
	mu sync.RWMutex

	db     *leveldb.DB
	byAddr map[string]*PeerstoreEntry
}

// NewPeerstore opens (or creates) the store at the given path.
func NewPeerstore(path string) (*Peerstore, error) {
	if path == "" {
		return nil, errors.New("peerstore path required")
	}
	db, err := leveldb.OpenFile(filepath.Clean(path), nil)
	if err != nil {
		return nil, fmt.Errorf("open peerstore: %w", err)
	}
	store := &Peerstore{
		db:     db,
		byAddr: make(map[string]*PeerstoreEntry),
	}
	if err := store.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close flushes and closes the underlying database.
func (ps *Peerstore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.db == nil {
		return nil
	}
	err := ps.db.Close()
	ps.db = nil
	ps.byAddr = nil
	return err
}

// Touch records that the peer was seen at now, creating the entry on first
// contact and resetting its failure counter.
func (ps *Peerstore) Touch(addr string, now time.Time) {
	if addr == "" {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	rec := ps.byAddr[addr]
	if rec == nil {
		rec = &PeerstoreEntry{Addr: addr, FirstSeen: now}
		ps.byAddr[addr] = rec
	}
	rec.LastSeen = now
	rec.Fails = 0
	_ = ps.persistLocked(rec)
}

// RecordFail bumps the failure counter for a refused or failed contact.
func (ps *Peerstore) RecordFail(addr string, now time.Time) {
	if addr == "" {
		return
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	rec := ps.byAddr[addr]
	if rec == nil {
		rec = &PeerstoreEntry{Addr: addr, FirstSeen: now}
		ps.byAddr[addr] = rec
	}
	rec.LastSeen = now
	rec.Fails++
	_ = ps.persistLocked(rec)
}

// Get returns the entry for addr.
func (ps *Peerstore) Get(addr string) (PeerstoreEntry, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	rec := ps.byAddr[addr]
	if rec == nil {
		return PeerstoreEntry{}, false
	}
	return *rec, true
}

// Snapshot returns all entries sorted by address.
func (ps *Peerstore) Snapshot() []PeerstoreEntry {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]PeerstoreEntry, 0, len(ps.byAddr))
	for _, rec := range ps.byAddr {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

func (ps *Peerstore) persistLocked(rec *PeerstoreEntry) error {
	if ps.db == nil {
		return errors.New("peerstore closed")
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return ps.db.Put([]byte("peer:"+rec.Addr), blob, nil)
}

func (ps *Peerstore) load() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	iter := ps.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		if len(key) < 5 || key[:5] != "peer:" {
			continue
		}
		var rec PeerstoreEntry
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("decode peer %s: %w", key, err)
		}
		entry := rec
		ps.byAddr[rec.Addr] = &entry
	}
	return iter.Error()
}
