package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// CheckInterval is how often known mDNS peers are looked up again.
	// The zeroconf browser reports each instance once per browse and drops
	// goodbye packets, so departures are only noticed by asking.
	CheckInterval = 15 * time.Second
	// CheckTimeout bounds a single liveness lookup
	CheckTimeout = 2 * time.Second
	// MaxMissedChecks is the number of unanswered lookups before PeerLost
	MaxMissedChecks = 2
)

// lookupFunc resolves one instance name to its endpoint
type lookupFunc func(ctx context.Context, name string) (*net.UDPAddr, error)

// peerWatch tracks liveness of one browsed instance
type peerWatch struct {
	misses int
	lost   bool
}

// MDNS advertises and browses with DNS-SD over multicast DNS
type MDNS struct {
	opts   Options
	events emitter
	lookup lookupFunc

	checkInterval time.Duration
	checkTimeout  time.Duration

	identity string
	server   *zeroconf.Server

	// Resolved endpoints by instance name
	peers map[string]*net.UDPAddr
	// Liveness of every instance seen since start, lost ones included
	watched map[string]*peerWatch
	mu      sync.RWMutex

	ctx          context.Context
	cancel       context.CancelFunc
	browseCancel context.CancelFunc
	browseWG     sync.WaitGroup

	// lifeMu serializes start, stop and shutdown
	lifeMu  sync.Mutex
	started bool
	stopped bool
	closed  bool
}

// NewMDNS creates a multicast DNS discovery backend
func NewMDNS(opts Options) *MDNS {
	m := &MDNS{
		opts:          opts.withDefaults(),
		events:        newEmitter(),
		checkInterval: CheckInterval,
		checkTimeout:  CheckTimeout,
		peers:         make(map[string]*net.UDPAddr),
		watched:       make(map[string]*peerWatch),
	}
	m.lookup = m.lookupZeroconf
	return m
}

// Events returns the discovery event stream
func (m *MDNS) Events() <-chan Event {
	return m.events.ch
}

// AdvertiseAndBrowse registers identity as a service instance and starts
// browsing for the same service type. An empty identity only browses.
func (m *MDNS) AdvertiseAndBrowse(ctx context.Context, identity string, port int) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}

	var server *zeroconf.Server
	if identity != "" {
		var err error
		server, err = zeroconf.Register(identity, m.opts.ServiceType, m.opts.Domain, port, []string{"txtv=1"}, nil)
		if err != nil {
			return fmt.Errorf("failed to register service %q: %w", identity, err)
		}
	}

	resolver, err := zeroconf.NewResolver()
	if err != nil {
		if server != nil {
			server.Shutdown()
		}
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	m.identity = identity
	m.server = server
	m.ctx, m.cancel = context.WithCancel(ctx)
	var browseCtx context.Context
	browseCtx, m.browseCancel = context.WithCancel(m.ctx)
	m.started = true

	entries := make(chan *zeroconf.ServiceEntry)
	m.browseWG.Add(2)
	go m.browseLoop(browseCtx, entries)
	go m.checkLoop(browseCtx)

	if err := resolver.Browse(browseCtx, m.opts.ServiceType, m.opts.Domain, entries); err != nil {
		log.Printf("[WARN] discovery: mdns browse failed: %v", err)
		m.events.tryEmit(Event{Kind: SearchFailed, Err: err})
		return nil
	}

	m.events.tryEmit(Event{Kind: SearchStarted})
	log.Printf("[INFO] discovery: advertising %q as %s%s on port %d", identity, m.opts.ServiceType, m.opts.Domain, port)
	return nil
}

// browseLoop turns resolver entries into events until the entry channel closes
func (m *MDNS) browseLoop(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	defer m.browseWG.Done()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			m.handleEntry(ctx, entry)
		case <-ctx.Done():
			return
		}
	}
}

// handleEntry records a browse result
func (m *MDNS) handleEntry(ctx context.Context, entry *zeroconf.ServiceEntry) {
	name := entry.Instance
	if name == "" {
		return
	}

	addr := entryAddr(entry)
	if addr == nil {
		log.Printf("[DEBUG] discovery: entry %q has no address yet", name)
		return
	}

	m.mu.Lock()
	m.peers[name] = addr
	m.watched[name] = &peerWatch{}
	m.mu.Unlock()

	log.Printf("[INFO] discovery: found peer %q at %s", name, addr)
	m.events.emit(ctx, Event{Kind: PeerFound, Name: name})
}

// checkLoop looks up watched peers every checkInterval
func (m *MDNS) checkLoop(ctx context.Context) {
	defer m.browseWG.Done()

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkPeers(ctx)
		}
	}
}

// checkPeers looks up every watched instance once. A live peer that
// misses MaxMissedChecks lookups in a row is reported lost; a lost peer
// that answers again is reported found.
func (m *MDNS) checkPeers(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.watched))
	for name := range m.watched {
		names = append(names, name)
	}
	m.mu.RUnlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}

		lookupCtx, cancel := context.WithTimeout(ctx, m.checkTimeout)
		addr, err := m.lookup(lookupCtx, name)
		cancel()
		if ctx.Err() != nil {
			return
		}

		var ev *Event
		m.mu.Lock()
		w, ok := m.watched[name]
		switch {
		case !ok:
		case err != nil:
			w.misses++
			if !w.lost && w.misses >= MaxMissedChecks {
				w.lost = true
				delete(m.peers, name)
				ev = &Event{Kind: PeerLost, Name: name}
			}
		default:
			w.misses = 0
			m.peers[name] = addr
			if w.lost {
				w.lost = false
				ev = &Event{Kind: PeerFound, Name: name}
			}
		}
		m.mu.Unlock()

		if ev == nil {
			continue
		}
		if ev.Kind == PeerLost {
			log.Printf("[INFO] discovery: peer %q stopped answering", name)
		} else {
			log.Printf("[INFO] discovery: peer %q is back at %s", name, addr)
		}
		m.events.emit(ctx, *ev)
	}
}

// entryAddr picks the UDP endpoint of an entry, IPv4 first
func entryAddr(entry *zeroconf.ServiceEntry) *net.UDPAddr {
	if entry.Port <= 0 {
		return nil
	}
	if len(entry.AddrIPv4) > 0 {
		return &net.UDPAddr{IP: entry.AddrIPv4[0], Port: entry.Port}
	}
	if len(entry.AddrIPv6) > 0 {
		return &net.UDPAddr{IP: entry.AddrIPv6[0], Port: entry.Port}
	}
	return nil
}

// Resolve returns the endpoint of name, looking it up when not yet browsed
func (m *MDNS) Resolve(ctx context.Context, name string) (*net.UDPAddr, error) {
	m.mu.RLock()
	addr, ok := m.peers[name]
	m.mu.RUnlock()
	if ok {
		return addr, nil
	}

	addr, err := m.lookup(ctx, name)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.peers[name] = addr
	m.mu.Unlock()
	return addr, nil
}

// lookupZeroconf queries the network for one instance
func (m *MDNS) lookupZeroconf(ctx context.Context, name string) (*net.UDPAddr, error) {
	resolver, err := zeroconf.NewResolver()
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver: %w", err)
	}

	lookupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Lookup(lookupCtx, name, m.opts.ServiceType, m.opts.Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", name, err)
	}

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, name)
			}
			if addr := entryAddr(entry); addr != nil && entry.Instance == name {
				return addr, nil
			}
		case <-lookupCtx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownPeer, name, lookupCtx.Err())
		}
	}
}

// Stop halts browsing. The registered service keeps answering queries.
func (m *MDNS) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.stopLocked()
}

func (m *MDNS) stopLocked() {
	if !m.started || m.stopped {
		return
	}
	m.stopped = true
	m.browseCancel()
	m.browseWG.Wait()
	m.events.tryEmit(Event{Kind: SearchStopped})
	log.Printf("[INFO] discovery: browsing stopped")
}

// Shutdown unregisters the service
func (m *MDNS) Shutdown() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.started || m.closed {
		return
	}
	m.closed = true

	m.stopLocked()
	if m.server != nil {
		m.server.Shutdown()
	}
	m.cancel()
	log.Printf("[INFO] discovery: advertisement of %q withdrawn", m.identity)
}
