package p2p

import (
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"
)

const (
	defaultBanDuration   = 24 * time.Hour
	defaultSweepInterval = time.Minute
)

// BanManagerConfig carries construction-time settings for the ban manager.
type BanManagerConfig struct {
	Store              *BanStore
	Now                func() time.Time
	DefaultBanDuration time.Duration
	SweepInterval      time.Duration
	Logger             *slog.Logger
}

// BanManager owns the in-memory ban table and its persistence. All table
// access happens under a single lock; the on-ban listener and disk flushes
// run after the mutation completes. The clock is injected so expiry can be
// tested deterministically.
type BanManager struct {
	mu          sync.Mutex
	list        *banList
	discouraged map[string]struct{}

	store      *BanStore
	now        func() time.Time
	defaultBan time.Duration

	onBan func(Subnet)

	logger        *slog.Logger
	metrics       *banMetrics
	sweepInterval time.Duration
	startOnce     sync.Once
	closeOnce     sync.Once
	started       bool
	quit          chan struct{}
	done          chan struct{}
}

// NewBanManager loads the persisted ban list and returns a ready manager.
// A corrupt store file is a fatal construction error; a missing one is not.
func NewBanManager(cfg BanManagerConfig) (*BanManager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ban manager: store required")
	}
	m := &BanManager{
		list:          newBanList(),
		discouraged:   make(map[string]struct{}),
		store:         cfg.Store,
		now:           cfg.Now,
		defaultBan:    cfg.DefaultBanDuration,
		logger:        cfg.Logger,
		metrics:       newBanMetrics(),
		sweepInterval: cfg.SweepInterval,
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.defaultBan <= 0 {
		m.defaultBan = defaultBanDuration
	}
	if m.sweepInterval <= 0 {
		m.sweepInterval = defaultSweepInterval
	}
	if m.logger == nil {
		m.logger = slog.Default().With(slog.String("component", "banman"))
	}
	entries, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		m.list.add(entry)
	}
	m.list.dirty = false
	swept := m.list.sweep(m.now())
	if swept > 0 {
		m.logger.Info("Swept expired bans at load", slog.Int("count", swept))
	}
	m.metrics.setActiveBans(len(m.list.entries))
	return m, nil
}

// SetOnBan installs the listener invoked after each new ban, outside the
// table lock. Must be called before Start.
func (m *BanManager) SetOnBan(fn func(Subnet)) {
	m.onBan = fn
}

// Start launches the periodic expiry sweep.
func (m *BanManager) Start() {
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.started = true
		m.mu.Unlock()
		go m.sweepLoop()
	})
}

// Close stops the sweeper and flushes the table to disk.
func (m *BanManager) Close() error {
	m.closeOnce.Do(func() {
		close(m.quit)
		m.mu.Lock()
		started := m.started
		m.mu.Unlock()
		if started {
			<-m.done
		}
	})
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

func (m *BanManager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.quit:
			return
		}
	}
}

// Ban inserts or refreshes the entry for sub. banTime is an offset in
// seconds; zero or negative selects the default duration. When absolute is
// set, banTime is instead the absolute unix expiry. Persists the table and
// notifies the enforcement listener once the lock is released.
func (m *BanManager) Ban(sub Subnet, banTime int64, absolute bool) {
	now := m.now()
	if banTime <= 0 {
		banTime = int64(m.defaultBan / time.Second)
		absolute = false
	}
	until := now.Unix() + banTime
	if absolute {
		until = banTime
	}
	entry := BanEntry{Subnet: sub, CreatedAt: now.Unix(), BannedUntil: until}

	m.mu.Lock()
	m.list.add(entry)
	m.sweepAndFlushLocked(now)
	active := len(m.list.entries)
	m.mu.Unlock()

	m.metrics.recordBanOp("add")
	m.metrics.setActiveBans(active)
	m.logger.Info("Banned subnet",
		slog.String("subnet", sub.String()),
		slog.Int64("until", until))
	// An absolute expiry in the past produces an entry that is dead on
	// arrival; it never matches a containment check, so it must not sever
	// live connections either.
	if m.onBan != nil && until > now.Unix() {
		m.onBan(sub)
	}
}

// Unban removes the entry keyed by exactly sub. Removing an absent subnet is
// a successful no-op: the caller's intent already holds. The return value
// only reports whether an entry was actually deleted.
func (m *BanManager) Unban(sub Subnet) bool {
	now := m.now()
	m.mu.Lock()
	removed := m.list.remove(sub)
	if removed {
		m.sweepAndFlushLocked(now)
	}
	active := len(m.list.entries)
	m.mu.Unlock()
	if removed {
		m.metrics.recordBanOp("remove")
		m.metrics.setActiveBans(active)
		m.logger.Info("Unbanned subnet", slog.String("subnet", sub.String()))
	}
	return removed
}

// UnbanAllContaining removes every entry whose subnet contains ip,
// regardless of prefix length, and returns how many entries went.
func (m *BanManager) UnbanAllContaining(ip net.IP) int {
	now := m.now()
	m.mu.Lock()
	removed := m.list.removeContaining(ip)
	if removed > 0 {
		m.sweepAndFlushLocked(now)
	}
	active := len(m.list.entries)
	m.mu.Unlock()
	if removed > 0 {
		m.metrics.recordBanOp("removeall")
		m.metrics.setActiveBans(active)
		m.logger.Info("Unbanned subnets containing address",
			slog.String("address", ip.String()),
			slog.Int("count", removed))
	}
	return removed
}

// Clear empties the ban table and persists the empty list.
func (m *BanManager) Clear() {
	m.mu.Lock()
	m.list.clear()
	err := m.flushLocked()
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("Flush after clear failed", slog.Any("error", err))
	}
	m.metrics.recordBanOp("clear")
	m.metrics.setActiveBans(0)
	m.logger.Info("Cleared ban list")
}

// Discourage marks a single address as misbehaving. The discouraged set
// lives only in memory: it is never persisted, never listed, and Clear does
// not touch it. Deciding when to discourage is the transport layer's call.
func (m *BanManager) Discourage(ip net.IP) {
	normalized := parseNetIP(ip)
	if normalized == nil {
		return
	}
	m.mu.Lock()
	m.discouraged[string(normalized)] = struct{}{}
	m.mu.Unlock()
	m.metrics.recordBanOp("discourage")
	m.logger.Info("Discouraged address", slog.String("address", ip.String()))
}

// IsDiscouraged reports whether the exact address has been discouraged.
func (m *BanManager) IsDiscouraged(ip net.IP) bool {
	normalized := parseNetIP(ip)
	if normalized == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.discouraged[string(normalized)]
	return ok
}

// IsBanned reports whether any non-expired entry contains ip.
func (m *BanManager) IsBanned(ip net.IP) bool {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.isBanned(ip, now)
}

// Banned returns the non-expired entries in canonical order. A non-nil
// filter restricts the result to subnets containing that address.
func (m *BanManager) Banned(filter net.IP) []BanEntry {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list.snapshot(now, filter)
}

// Sweep drops expired entries and flushes if anything changed. It then
// replays the enforcement listener over the surviving entries: a connection
// admitted between a ban mutation and its enforcement scan is caught here on
// the next sweep rather than staying live for the rest of its life.
func (m *BanManager) Sweep() {
	now := m.now()
	m.mu.Lock()
	swept := m.list.sweep(now)
	var err error
	if swept > 0 {
		err = m.flushLocked()
	}
	active := len(m.list.entries)
	var enforce []Subnet
	if m.onBan != nil && active > 0 {
		enforce = make([]Subnet, 0, active)
		for sub := range m.list.entries {
			enforce = append(enforce, sub)
		}
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Warn("Flush after sweep failed", slog.Any("error", err))
	}
	if swept > 0 {
		m.metrics.recordBanSweep(swept)
		m.metrics.setActiveBans(active)
		m.logger.Debug("Swept expired bans", slog.Int("count", swept))
	}
	for _, sub := range enforce {
		m.onBan(sub)
	}
}

func (m *BanManager) sweepAndFlushLocked(now time.Time) {
	m.list.sweep(now)
	if err := m.flushLocked(); err != nil {
		m.logger.Warn("Ban list flush failed", slog.Any("error", err))
	}
}

// flushLocked persists the table when dirty. Expired entries that survived
// past sweeps are written too; they are filtered again at load time.
func (m *BanManager) flushLocked() error {
	if !m.list.dirty {
		return nil
	}
	entries := make([]BanEntry, 0, len(m.list.entries))
	for _, entry := range m.list.entries {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Subnet.Compare(entries[j].Subnet) < 0
	})
	if err := m.store.Save(entries); err != nil {
		return err
	}
	m.list.dirty = false
	return nil
}
