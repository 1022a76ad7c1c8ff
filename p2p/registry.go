package p2p

import (
	"log/slog"
	"net"
	"sync"
	"time"
)

// Direction records how a connection was established.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ConnInfo is the public view of one live connection.
type ConnInfo struct {
	ID        uint64    `json:"id"`
	Addr      string    `json:"addr"`
	Direction Direction `json:"direction"`
}

type trackedConn struct {
	info     ConnInfo
	teardown func()
}

// RegistryConfig carries the registry's collaborators.
type RegistryConfig struct {
	Bans      *BanManager
	Peerstore *Peerstore
	Now       func() time.Time
	Logger    *slog.Logger
}

// Registry tracks live peer connections and enforces the ban list at
// admission time. It owns the records exclusively; callers address them by
// id or address only. Teardown callbacks run after the registry lock is
// released so network latency never sits inside the critical section.
type Registry struct {
	bans    *BanManager
	store   *Peerstore
	now     func() time.Time
	logger  *slog.Logger
	metrics *banMetrics

	mu     sync.Mutex
	nextID uint64
	conns  map[uint64]*trackedConn
	byAddr map[string]uint64
	order  []uint64
}

// NewRegistry builds an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		bans:    cfg.Bans,
		store:   cfg.Peerstore,
		now:     cfg.Now,
		logger:  cfg.Logger,
		metrics: newBanMetrics(),
		conns:   make(map[uint64]*trackedConn),
		byAddr:  make(map[string]uint64),
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = slog.Default().With(slog.String("component", "registry"))
	}
	return r
}

// Admit checks the ban list and, if the host is clear, records the
// connection and returns its id. teardown is invoked when the registry
// later severs the connection; it may be nil for passively managed conns.
func (r *Registry) Admit(addr string, direction Direction, teardown func()) (uint64, error) {
	host, err := hostIP(addr)
	if err != nil {
		return 0, err
	}
	if r.bans != nil && r.bans.IsBanned(host) {
		r.metrics.recordConnRefused()
		if r.store != nil {
			r.store.RecordFail(addr, r.now())
		}
		r.logger.Info("Refused banned peer", slog.String("addr", addr))
		return 0, ErrBanned
	}
	if r.bans != nil && r.bans.IsDiscouraged(host) {
		r.metrics.recordConnRefused()
		if r.store != nil {
			r.store.RecordFail(addr, r.now())
		}
		r.logger.Info("Refused discouraged peer", slog.String("addr", addr))
		return 0, ErrDiscouraged
	}

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	tc := &trackedConn{
		info:     ConnInfo{ID: id, Addr: addr, Direction: direction},
		teardown: teardown,
	}
	r.conns[id] = tc
	r.byAddr[addr] = id
	r.order = append(r.order, id)
	live := len(r.conns)
	r.mu.Unlock()

	if r.store != nil {
		r.store.Touch(addr, r.now())
	}
	r.metrics.recordConnOpened(string(direction))
	r.metrics.setLiveConns(live)
	r.logger.Info("Admitted peer",
		slog.Uint64("id", id),
		slog.String("addr", addr),
		slog.String("dir", string(direction)))
	return id, nil
}

// DisconnectID severs the connection with the given id.
func (r *Registry) DisconnectID(id uint64) error {
	r.mu.Lock()
	tc, ok := r.conns[id]
	if ok {
		r.dropLocked(tc)
	}
	live := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return ErrConnNotFound
	}
	r.finishDrop(tc, "operator", live)
	return nil
}

// DisconnectAddr severs the connection whose address matches exactly.
func (r *Registry) DisconnectAddr(addr string) error {
	r.mu.Lock()
	id, ok := r.byAddr[addr]
	var tc *trackedConn
	if ok {
		tc = r.conns[id]
		r.dropLocked(tc)
	}
	live := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return ErrConnNotFound
	}
	r.finishDrop(tc, "operator", live)
	return nil
}

// Remove deletes the record for a connection the transport already tore
// down (graceful close or remote hangup). No teardown callback runs.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	tc, ok := r.conns[id]
	if ok {
		r.dropLocked(tc)
	}
	live := len(r.conns)
	r.mu.Unlock()
	if !ok {
		return
	}
	if r.store != nil {
		r.store.Touch(tc.info.Addr, r.now())
	}
	r.metrics.recordConnClosed("remote")
	r.metrics.setLiveConns(live)
}

// DropContained severs every live connection whose host falls inside sub.
// Matching records are collected and removed under the lock; the teardown
// callbacks run afterwards. Returns the number of connections severed.
func (r *Registry) DropContained(sub Subnet) int {
	r.mu.Lock()
	victims := make([]*trackedConn, 0)
	for _, tc := range r.conns {
		host, err := hostIP(tc.info.Addr)
		if err != nil {
			continue
		}
		if sub.Contains(host) {
			victims = append(victims, tc)
		}
	}
	for _, tc := range victims {
		r.dropLocked(tc)
	}
	live := len(r.conns)
	r.mu.Unlock()

	for _, tc := range victims {
		if tc.teardown != nil {
			tc.teardown()
		}
		if r.store != nil {
			r.store.Touch(tc.info.Addr, r.now())
		}
		r.metrics.recordConnClosed("ban")
		r.logger.Info("Dropped banned peer",
			slog.Uint64("id", tc.info.ID),
			slog.String("addr", tc.info.Addr),
			slog.String("subnet", sub.String()))
	}
	r.metrics.setLiveConns(live)
	return len(victims)
}

// Peers returns a snapshot of live connections in admission order.
func (r *Registry) Peers() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnInfo, 0, len(r.conns))
	for _, id := range r.order {
		if tc, ok := r.conns[id]; ok {
			out = append(out, tc.info)
		}
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

func (r *Registry) dropLocked(tc *trackedConn) {
	delete(r.conns, tc.info.ID)
	if cur, ok := r.byAddr[tc.info.Addr]; ok && cur == tc.info.ID {
		delete(r.byAddr, tc.info.Addr)
	}
	if len(r.order) > 64 && len(r.order) > 2*len(r.conns) {
		compacted := make([]uint64, 0, len(r.conns))
		for _, id := range r.order {
			if _, ok := r.conns[id]; ok {
				compacted = append(compacted, id)
			}
		}
		r.order = compacted
	}
}

func (r *Registry) finishDrop(tc *trackedConn, reason string, live int) {
	if tc.teardown != nil {
		tc.teardown()
	}
	if r.store != nil {
		r.store.Touch(tc.info.Addr, r.now())
	}
	r.metrics.recordConnClosed(reason)
	r.metrics.setLiveConns(live)
	r.logger.Info("Disconnected peer",
		slog.Uint64("id", tc.info.ID),
		slog.String("addr", tc.info.Addr),
		slog.String("reason", reason))
}

// hostIP extracts and parses the host portion of "host:port" (or a bare
// host) into a family-normalized IP.
func hostIP(addr string) (net.IP, error) {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	ip := parseIP(host)
	if ip == nil {
		return nil, ErrInvalidAddress
	}
	return ip, nil
}
