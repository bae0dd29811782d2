package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultPort is the default UDP port for discovery broadcasts
	DefaultPort = 50051
	// BroadcastInterval is how often to broadcast presence
	BroadcastInterval = 5 * time.Second
	// StaleTimeout is how long before a peer is considered gone
	StaleTimeout = 30 * time.Second
	// CleanupInterval is how often to check for stale peers
	CleanupInterval = 10 * time.Second
)

// BroadcastOptions configures the UDP broadcast backend
type BroadcastOptions struct {
	Options
	// Port is the shared discovery port. 0 binds an ephemeral port (tests).
	Port int
	// BroadcastAddr overrides 255.255.255.255:Port as announce target
	BroadcastAddr string
	// SeedPeers are extra host:port targets for cross-subnet discovery
	SeedPeers []string

	BroadcastInterval time.Duration
	StaleTimeout      time.Duration
	CleanupInterval   time.Duration
}

type peerEntry struct {
	instanceID string
	addr       *net.UDPAddr
	lastSeen   time.Time
}

// Broadcast discovers peers with periodic UDP broadcast announcements
type Broadcast struct {
	opts       BroadcastOptions
	instanceID string
	seedPeers  []*net.UDPAddr
	events     emitter

	identity string
	chatPort int

	conn      *net.UDPConn
	broadcast *net.UDPAddr

	// Known peers by advertised name
	peers map[string]*peerEntry
	mu    sync.RWMutex

	ctx          context.Context
	cancel       context.CancelFunc
	browseCancel context.CancelFunc
	wg           sync.WaitGroup
	browseWG     sync.WaitGroup

	// lifeMu serializes start, stop and shutdown and guards started and conn
	lifeMu  sync.Mutex
	started bool
	stopped bool
	closed  bool
}

// NewBroadcast creates a broadcast discovery backend
func NewBroadcast(opts BroadcastOptions) (*Broadcast, error) {
	opts.Options = opts.Options.withDefaults()
	if opts.BroadcastInterval <= 0 {
		opts.BroadcastInterval = BroadcastInterval
	}
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = StaleTimeout
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = CleanupInterval
	}

	b := &Broadcast{
		opts:       opts,
		instanceID: uuid.New().String(),
		events:     newEmitter(),
		peers:      make(map[string]*peerEntry),
	}
	for _, seed := range opts.SeedPeers {
		if err := b.addSeedPeer(seed); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// addSeedPeer adds a known peer address for cross-subnet discovery
func (b *Broadcast) addSeedPeer(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return fmt.Errorf("invalid seed peer address %s: %w", addr, err)
	}
	b.seedPeers = append(b.seedPeers, udpAddr)
	return nil
}

// Events returns the discovery event stream
func (b *Broadcast) Events() <-chan Event {
	return b.events.ch
}

// LocalAddr returns the bound discovery socket address, nil before start
func (b *Broadcast) LocalAddr() *net.UDPAddr {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.conn == nil {
		return nil
	}
	return b.conn.LocalAddr().(*net.UDPAddr)
}

// AdvertiseAndBrowse binds the discovery socket and starts the
// announce, listen and cleanup loops
func (b *Broadcast) AdvertiseAndBrowse(ctx context.Context, identity string, port int) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}

	listenAddr := &net.UDPAddr{IP: net.IPv4zero, Port: b.opts.Port}
	conn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", b.opts.Port, err)
	}
	b.conn = conn

	if b.opts.BroadcastAddr != "" {
		b.broadcast, err = net.ResolveUDPAddr("udp4", b.opts.BroadcastAddr)
		if err != nil {
			conn.Close()
			return fmt.Errorf("invalid broadcast address %s: %w", b.opts.BroadcastAddr, err)
		}
	} else {
		b.broadcast = &net.UDPAddr{IP: net.IPv4bcast, Port: b.opts.Port}
	}

	if err := conn.SetWriteBuffer(MaxMessageSize * 10); err != nil {
		log.Printf("[WARN] discovery: failed to set write buffer: %v", err)
	}
	if err := conn.SetReadBuffer(MaxMessageSize * 10); err != nil {
		log.Printf("[WARN] discovery: failed to set read buffer: %v", err)
	}

	b.identity = identity
	b.chatPort = port
	b.ctx, b.cancel = context.WithCancel(ctx)
	var browseCtx context.Context
	browseCtx, b.browseCancel = context.WithCancel(b.ctx)
	b.started = true

	if identity != "" {
		b.wg.Add(1)
		go b.announceLoop()
	}

	b.browseWG.Add(2)
	go b.listenLoop(browseCtx)
	go b.cleanupLoop(browseCtx)

	b.events.tryEmit(Event{Kind: SearchStarted})
	log.Printf("[INFO] discovery: advertising %q (%s%s) via broadcast on UDP port %d",
		identity, b.opts.ServiceType, b.opts.Domain, conn.LocalAddr().(*net.UDPAddr).Port)
	return nil
}

// Stop halts browsing. Announcements keep going until Shutdown.
func (b *Broadcast) Stop() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	b.stopLocked()
}

func (b *Broadcast) stopLocked() {
	if !b.started || b.stopped {
		return
	}
	b.stopped = true
	b.browseCancel()
	b.browseWG.Wait()
	b.events.tryEmit(Event{Kind: SearchStopped})
	log.Printf("[INFO] discovery: browsing stopped")
}

// Shutdown sends LEAVE and releases the socket
func (b *Broadcast) Shutdown() {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()
	if !b.started || b.closed {
		return
	}
	b.closed = true

	b.stopLocked()
	if b.identity != "" {
		b.broadcastMessage(MessageTypeLeave)
	}

	b.cancel()
	b.conn.Close()
	b.wg.Wait()
	log.Printf("[INFO] discovery: advertisement of %q withdrawn", b.identity)
}

// Resolve returns the chat endpoint last announced under name
func (b *Broadcast) Resolve(ctx context.Context, name string) (*net.UDPAddr, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entry, ok := b.peers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, name)
	}
	return entry.addr, nil
}

// listenLoop receives UDP broadcasts from other instances
func (b *Broadcast) listenLoop(ctx context.Context) {
	defer b.browseWG.Done()

	buf := make([]byte, MaxMessageSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Set read deadline to allow periodic ctx check
		b.conn.SetReadDeadline(time.Now().Add(1 * time.Second))

		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			log.Printf("[WARN] discovery: read error: %v", err)
			b.events.emit(ctx, Event{Kind: SearchFailed, Err: err})
			continue
		}

		var msg AnnounceMessage
		if err := json.Unmarshal(buf[:n], &msg); err != nil {
			log.Printf("[DEBUG] discovery: invalid message from %s: %v", addr, err)
			continue
		}

		b.handleMessage(ctx, &msg, addr)
	}
}

// handleMessage processes a received discovery message
func (b *Broadcast) handleMessage(ctx context.Context, msg *AnnounceMessage, from *net.UDPAddr) {
	// Ignore our own broadcasts and other applications' namespaces
	if msg.InstanceID == b.instanceID {
		return
	}
	if msg.ServiceType != b.opts.ServiceType || msg.Domain != b.opts.Domain || msg.Name == "" {
		return
	}

	switch msg.Type {
	case MessageTypeAnnounce:
		addr := &net.UDPAddr{IP: from.IP, Port: msg.Port, Zone: from.Zone}

		b.mu.Lock()
		entry, known := b.peers[msg.Name]
		changed := !known || entry.instanceID != msg.InstanceID || !entry.addr.IP.Equal(addr.IP) || entry.addr.Port != addr.Port
		b.peers[msg.Name] = &peerEntry{instanceID: msg.InstanceID, addr: addr, lastSeen: time.Now()}
		b.mu.Unlock()

		if changed {
			log.Printf("[INFO] discovery: found peer %q at %s", msg.Name, addr)
			b.events.emit(ctx, Event{Kind: PeerFound, Name: msg.Name})
		}

	case MessageTypeLeave:
		b.mu.Lock()
		entry, known := b.peers[msg.Name]
		if known && entry.instanceID == msg.InstanceID {
			delete(b.peers, msg.Name)
		} else {
			known = false
		}
		b.mu.Unlock()

		if known {
			log.Printf("[INFO] discovery: peer %q left", msg.Name)
			b.events.emit(ctx, Event{Kind: PeerLost, Name: msg.Name})
		}
	}
}

// announceLoop periodically broadcasts our presence
func (b *Broadcast) announceLoop() {
	defer b.wg.Done()

	// Broadcast immediately on startup
	b.broadcastMessage(MessageTypeAnnounce)

	ticker := time.NewTicker(b.opts.BroadcastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.broadcastMessage(MessageTypeAnnounce)
		}
	}
}

// broadcastMessage sends a discovery message to every instance on the LAN
func (b *Broadcast) broadcastMessage(msgType MessageType) {
	msg := AnnounceMessage{
		Type:        msgType,
		Version:     1,
		Timestamp:   time.Now().UnixMilli(),
		InstanceID:  b.instanceID,
		ServiceType: b.opts.ServiceType,
		Domain:      b.opts.Domain,
		Name:        b.identity,
		Port:        b.chatPort,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[ERROR] discovery: failed to marshal message: %v", err)
		return
	}

	if _, err := b.conn.WriteToUDP(data, b.broadcast); err != nil {
		// Broadcast failures are common on some networks
		if b.ctx.Err() == nil {
			log.Printf("[DEBUG] discovery: broadcast failed: %v", err)
		}
	}

	for _, peer := range b.seedPeers {
		if _, err := b.conn.WriteToUDP(data, peer); err != nil {
			if b.ctx.Err() == nil {
				log.Printf("[DEBUG] discovery: send to seed peer %s failed: %v", peer, err)
			}
		}
	}
}

// cleanupLoop removes peers that haven't announced recently
func (b *Broadcast) cleanupLoop(ctx context.Context) {
	defer b.browseWG.Done()

	ticker := time.NewTicker(b.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range b.purgeStalePeers(time.Now()) {
				b.events.emit(ctx, Event{Kind: PeerLost, Name: name})
			}
		}
	}
}

// purgeStalePeers drops peers not seen for StaleTimeout and returns their names
func (b *Broadcast) purgeStalePeers(now time.Time) []string {
	staleThreshold := now.Add(-b.opts.StaleTimeout)

	b.mu.Lock()
	defer b.mu.Unlock()

	var gone []string
	for name, entry := range b.peers {
		if entry.lastSeen.Before(staleThreshold) {
			delete(b.peers, name)
			gone = append(gone, name)
			log.Printf("[INFO] discovery: peer %q marked stale (no broadcast for %v)", name, b.opts.StaleTimeout)
		}
	}
	return gone
}
