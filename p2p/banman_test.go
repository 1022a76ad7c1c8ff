package p2p

import (
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestBanManager(t *testing.T, clock *fakeClock) (*BanManager, *BanStore) {
	t.Helper()
	store, err := NewBanStore(filepath.Join(t.TempDir(), "banlist.json"))
	if err != nil {
		t.Fatalf("new ban store: %v", err)
	}
	mgr, err := NewBanManager(BanManagerConfig{Store: store, Now: clock.Now})
	if err != nil {
		t.Fatalf("new ban manager: %v", err)
	}
	return mgr, store
}

func TestBanManagerDefaultAndExplicitDurations(t *testing.T) {
	clock := newFakeClock(time.Unix(100000, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 0, false)
	mgr.Ban(mustSubnet(t, "10.0.0.5/32"), 500, false)

	entries := mgr.Banned(nil)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	now := clock.Now().Unix()
	if got := entries[0].BannedUntil - now; got != int64(defaultBanDuration/time.Second) {
		t.Fatalf("default ban: expected %ds offset, got %d", int64(defaultBanDuration/time.Second), got)
	}
	if entries[1].Subnet.String() != "10.0.0.5/32" {
		t.Fatalf("expected host entry second in canonical order, got %s", entries[1].Subnet)
	}
	if got := entries[1].BannedUntil - now; got != 500 {
		t.Fatalf("explicit ban: expected 500s offset, got %d", got)
	}
}

func TestBanManagerAbsoluteExpiry(t *testing.T) {
	clock := newFakeClock(time.Unix(5000, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 7777, true)
	entries := mgr.Banned(nil)
	if len(entries) != 1 || entries[0].BannedUntil != 7777 {
		t.Fatalf("expected absolute expiry 7777, got %+v", entries)
	}
}

func TestBanManagerExpiryVisibility(t *testing.T) {
	clock := newFakeClock(time.Unix(100000, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "10.0.0.5/32"), 1, false)
	before := len(mgr.Banned(nil))

	clock.Advance(3 * time.Second)
	after := len(mgr.Banned(nil))
	if before-after != 1 {
		t.Fatalf("expected exactly one entry to expire, before=%d after=%d", before, after)
	}
	if mgr.IsBanned(net.ParseIP("10.0.0.5")) {
		t.Fatalf("expired ban must not be enforced")
	}
}

func TestBanManagerUnbanAbsentSucceeds(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 1000, false)
	if mgr.Unban(mustSubnet(t, "172.16.0.0/12")) {
		t.Fatalf("removing an absent subnet must report no deletion")
	}
	if len(mgr.Banned(nil)) != 1 {
		t.Fatalf("unrelated entry must be untouched")
	}
}

func TestBanManagerUnbanAllContaining(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "127.0.0.1/16"), 1000, false)
	mgr.Ban(mustSubnet(t, "127.0.0.1/24"), 1000, false)
	mgr.Ban(mustSubnet(t, "127.0.0.1/32"), 1000, false)

	removed := mgr.UnbanAllContaining(net.ParseIP("127.0.0.3"))
	if removed != 2 {
		t.Fatalf("expected 2 entries removed, got %d", removed)
	}
	entries := mgr.Banned(nil)
	if len(entries) != 1 || entries[0].Subnet.String() != "127.0.0.1/32" {
		t.Fatalf("expected only the host ban to survive, got %v", entries)
	}
}

func TestBanManagerListFilter(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, _ := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "127.0.0.1/16"), 1000, false)
	mgr.Ban(mustSubnet(t, "127.0.0.1/24"), 1000, false)
	mgr.Ban(mustSubnet(t, "127.0.0.1/32"), 1000, false)

	got := mgr.Banned(net.ParseIP("127.0.0.3"))
	want := map[string]struct{}{"127.0.0.0/16": {}, "127.0.0.0/24": {}}
	if len(got) != len(want) {
		t.Fatalf("expected %d filtered entries, got %d", len(want), len(got))
	}
	for _, entry := range got {
		if _, ok := want[entry.Subnet.String()]; !ok {
			t.Fatalf("unexpected entry %s", entry.Subnet)
		}
	}
}

func TestBanManagerPersistenceRoundTrip(t *testing.T) {
	clock := newFakeClock(time.Unix(100000, 0))
	mgr, store := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "127.0.0.0/32"), 0, false)
	mgr.Ban(mustSubnet(t, "127.0.0.0/24"), 0, false)
	mgr.Ban(mustSubnet(t, "192.168.0.1/32"), 1, false)
	mgr.Ban(mustSubnet(t, "2001:db8::/19"), 1000, false)
	before := mgr.Banned(nil)
	if err := mgr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Same clock: the reloaded table lists identically.
	reloaded, err := NewBanManager(BanManagerConfig{Store: store, Now: clock.Now})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	after := reloaded.Banned(nil)
	if len(after) != len(before) {
		t.Fatalf("round trip changed entry count: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("entry %d differs after reload: %+v vs %+v", i, before[i], after[i])
		}
	}
	if err := reloaded.Close(); err != nil {
		t.Fatalf("close reloaded: %v", err)
	}

	// Advance past the 1s ban: a later restart filters it out naturally.
	clock.Advance(3 * time.Second)
	expired, err := NewBanManager(BanManagerConfig{Store: store, Now: clock.Now})
	if err != nil {
		t.Fatalf("reload after expiry: %v", err)
	}
	final := expired.Banned(nil)
	if len(final) != len(before)-1 {
		t.Fatalf("expected the 1s ban filtered at load, got %d entries", len(final))
	}
	for _, entry := range final {
		if entry.Subnet.String() == "192.168.0.1/32" {
			t.Fatalf("expired ban resurrected after restart")
		}
	}
}

func TestBanManagerClear(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, store := newTestBanManager(t, clock)

	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 1000, false)
	mgr.Clear()
	if len(mgr.Banned(nil)) != 0 {
		t.Fatalf("expected empty table after clear")
	}
	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(persisted) != 0 {
		t.Fatalf("clear must persist the empty table, got %d entries", len(persisted))
	}
}

func TestBanManagerOnBanListener(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, _ := newTestBanManager(t, clock)

	var got []string
	mgr.SetOnBan(func(sub Subnet) {
		got = append(got, sub.String())
	})
	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 1000, false)
	mgr.Unban(mustSubnet(t, "10.0.0.0/24"))
	mgr.Clear()

	if len(got) != 1 || got[0] != "10.0.0.0/24" {
		t.Fatalf("listener must fire once, on add only: %v", got)
	}
}

func TestBanManagerCorruptStoreFailsConstruction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "banlist.json")
	store, err := NewBanStore(path)
	if err != nil {
		t.Fatalf("new ban store: %v", err)
	}
	if err := os.WriteFile(path, []byte("{broken"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewBanManager(BanManagerConfig{Store: store}); !IsBanStoreCorrupt(err) {
		t.Fatalf("expected corrupt store to fail construction, got %v", err)
	}
}

func TestBanManagerDiscouragedSetIsMemoryOnly(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, store := newTestBanManager(t, clock)

	addr := net.ParseIP("203.0.113.7")
	mgr.Discourage(addr)
	if !mgr.IsDiscouraged(addr) {
		t.Fatalf("address must be discouraged after Discourage")
	}
	if mgr.IsDiscouraged(net.ParseIP("203.0.113.8")) {
		t.Fatalf("only the exact address is discouraged")
	}
	if mgr.IsBanned(addr) {
		t.Fatalf("discouragement is not a ban")
	}
	if entries := mgr.Banned(nil); len(entries) != 0 {
		t.Fatalf("discouraged addresses must not appear in the ban list: %+v", entries)
	}

	// Clearing the ban list leaves the discouraged set intact.
	mgr.Ban(mustSubnet(t, "10.0.0.0/24"), 0, false)
	mgr.Clear()
	if !mgr.IsDiscouraged(addr) {
		t.Fatalf("clear must not touch the discouraged set")
	}

	// The set does not survive a restart.
	reloaded, err := NewBanManager(BanManagerConfig{Store: store, Now: clock.Now})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.IsDiscouraged(addr) {
		t.Fatalf("discouraged set must not be persisted")
	}
}

func TestBanManagerConcurrentStartClose(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0))
	mgr, _ := newTestBanManager(t, clock)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		mgr.Start()
	}()
	go func() {
		defer wg.Done()
		if err := mgr.Close(); err != nil {
			t.Errorf("close: %v", err)
		}
	}()
	wg.Wait()

	// Close is idempotent regardless of interleaving.
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
