package p2p

import (
	"net"
	"sort"
	"time"
)

// BanEntry pairs a banned subnet with its creation time and absolute expiry,
// both in unix seconds.
type BanEntry struct {
	Subnet      Subnet
	CreatedAt   int64
	BannedUntil int64
}

// Expired reports whether the entry is no longer effective at now.
func (e BanEntry) Expired(now time.Time) bool {
	return e.BannedUntil <= now.Unix()
}

// banList is the raw subnet->entry table. It carries no lock of its own; the
// owning BanManager serializes access. Expired entries linger in the map
// until a sweep or mutation touches them, so every read filters on expiry.
type banList struct {
	entries map[Subnet]BanEntry
	dirty   bool
}

func newBanList() *banList {
	return &banList{entries: make(map[Subnet]BanEntry)}
}

// add inserts or overwrites the entry keyed by its subnet. Overlapping
// subnets with different prefix lengths remain independent entries.
func (l *banList) add(entry BanEntry) {
	l.entries[entry.Subnet] = entry
	l.dirty = true
}

// remove deletes the exact subnet key if present and reports whether it was.
func (l *banList) remove(sub Subnet) bool {
	if _, ok := l.entries[sub]; !ok {
		return false
	}
	delete(l.entries, sub)
	l.dirty = true
	return true
}

// removeContaining drops every entry whose subnet contains ip, across all
// prefix lengths, and returns how many were dropped.
func (l *banList) removeContaining(ip net.IP) int {
	removed := 0
	for sub := range l.entries {
		if sub.Contains(ip) {
			delete(l.entries, sub)
			removed++
		}
	}
	if removed > 0 {
		l.dirty = true
	}
	return removed
}

// clear empties the table.
func (l *banList) clear() {
	if len(l.entries) == 0 {
		return
	}
	l.entries = make(map[Subnet]BanEntry)
	l.dirty = true
}

// isBanned reports whether any non-expired entry contains ip.
func (l *banList) isBanned(ip net.IP, now time.Time) bool {
	for sub, entry := range l.entries {
		if entry.Expired(now) {
			continue
		}
		if sub.Contains(ip) {
			return true
		}
	}
	return false
}

// snapshot returns the non-expired entries in canonical order. A non-nil
// filter restricts the result to subnets containing that address.
func (l *banList) snapshot(now time.Time, filter net.IP) []BanEntry {
	out := make([]BanEntry, 0, len(l.entries))
	for sub, entry := range l.entries {
		if entry.Expired(now) {
			continue
		}
		if filter != nil && !sub.Contains(filter) {
			continue
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Subnet.Compare(out[j].Subnet) < 0
	})
	return out
}

// sweep physically deletes expired entries and returns how many went.
func (l *banList) sweep(now time.Time) int {
	swept := 0
	for sub, entry := range l.entries {
		if entry.Expired(now) {
			delete(l.entries, sub)
			swept++
		}
	}
	if swept > 0 {
		l.dirty = true
	}
	return swept
}
