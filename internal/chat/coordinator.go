// Package chat ties discovery, the listener and peer sessions together
// into a single chat room. Every state change funnels through one event
// loop goroutine, which owns the transcript and the session set.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/lanchat/lanchat/internal/codec"
	"github.com/lanchat/lanchat/internal/discovery"
	"github.com/lanchat/lanchat/internal/listener"
	"github.com/lanchat/lanchat/internal/session"
	"github.com/lanchat/lanchat/internal/transport"
)

const (
	searchingNotice = "start searching services"
	connectedNotice = "connected with %s"

	eventBuffer = 256
)

// Observer is the presentation side of the chat. Callbacks run on the
// coordinator loop and must not block for long.
type Observer interface {
	LogAppended(entries []LogEntry)
	Alert(a Alert)
	PeerFound(name string)
}

// Options configure a Coordinator
type Options struct {
	Identity   string
	ListenAddr string
	Session    session.Options
	Listener   listener.Options
}

// PeerInfo describes one peer session
type PeerInfo struct {
	Name  string
	State session.State
}

type peerSession struct {
	sess *session.Session
	gen  uint64
}

type pendingSend struct {
	text      string
	remaining int
	delivered bool
	errs      []error
}

// loop events
type (
	sendCommand struct {
		text string
	}
	sessionChanged struct {
		change session.StateChange
		gen    uint64
	}
	sendCompleted struct {
		id   uint64
		peer string
		err  error
	}
	messageReceived struct {
		msg codec.ChatMessage
	}
)

// Coordinator is one participant in the chat room
type Coordinator struct {
	identity  string
	opts      Options
	observer  Observer
	discovery discovery.Service
	dialer    session.Dialer
	listener  *listener.Listener
	log       *Log

	// Written by the loop only
	mu       sync.RWMutex
	sessions map[string]*peerSession

	sends   map[uint64]*pendingSend
	nextID  uint64
	nextGen uint64

	events chan any
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stopOnce  sync.Once
	closeOnce sync.Once
}

// New validates the identity, binds the listener and starts discovery.
// A nil dialer dials through disc. A listener bind failure is returned
// wrapped in listener.ErrListen and leaves nothing running.
func New(opts Options, disc discovery.Service, dialer session.Dialer, observer Observer) (*Coordinator, error) {
	if strings.TrimSpace(opts.Identity) == "" {
		return nil, ErrInvalidName
	}
	if dialer == nil {
		dialer = transport.UDPDialer{Resolver: disc}
	}
	if opts.ListenAddr == "" {
		opts.ListenAddr = ":0"
	}

	l, err := listener.Listen(opts.ListenAddr, opts.Listener)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		identity:  opts.Identity,
		opts:      opts,
		observer:  observer,
		discovery: disc,
		dialer:    dialer,
		listener:  l,
		log:       NewLog(),
		sessions:  make(map[string]*peerSession),
		sends:     make(map[uint64]*pendingSend),
		events:    make(chan any, eventBuffer),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.wg.Add(1)
	go c.loop()

	l.Start(c.ctx, c.identity, c.onReceive)

	if err := disc.AdvertiseAndBrowse(c.ctx, c.identity, l.Port()); err != nil {
		c.cancel()
		c.wg.Wait()
		l.Close()
		return nil, fmt.Errorf("failed to start discovery: %w", err)
	}

	log.Printf("[INFO] chat: %q joined on %s", c.identity, l.Addr())
	return c, nil
}

// Identity returns the local name
func (c *Coordinator) Identity() string {
	return c.identity
}

// ListenAddr returns the bound receive address
func (c *Coordinator) ListenAddr() net.Addr {
	return c.listener.Addr()
}

// Send broadcasts text to every live peer session. Failures are reported
// through Observer.Alert.
func (c *Coordinator) Send(text string) {
	c.post(sendCommand{text: text})
}

// Stop halts peer browsing. Sessions, the listener and the
// advertisement stay up.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.discovery.Stop()
		log.Printf("[INFO] chat: stopped searching")
	})
}

// Close tears everything down: loop, sessions, listener and advertisement
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()

		c.discovery.Shutdown()

		c.mu.Lock()
		sessions := lo.Values(c.sessions)
		c.sessions = make(map[string]*peerSession)
		c.mu.Unlock()
		for _, ps := range sessions {
			ps.sess.Close()
		}

		c.listener.Close()
		log.Printf("[INFO] chat: %q left", c.identity)
	})
}

// Log returns a snapshot of the transcript
func (c *Coordinator) Log() []LogEntry {
	return c.log.Snapshot()
}

// Peers returns the current sessions sorted by name
func (c *Coordinator) Peers() []PeerInfo {
	c.mu.RLock()
	peers := lo.MapToSlice(c.sessions, func(name string, ps *peerSession) PeerInfo {
		return PeerInfo{Name: name, State: ps.sess.State()}
	})
	c.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i].Name < peers[j].Name })
	return peers
}

// post hands an event to the loop unless the coordinator is closed
func (c *Coordinator) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Coordinator) onReceive(msg codec.ChatMessage, from net.Addr) {
	c.post(messageReceived{msg: msg})
}

// loop is the single writer of the transcript and the session set
func (c *Coordinator) loop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.discovery.Events():
			c.handleDiscovery(ev)
		case ev := <-c.events:
			switch ev := ev.(type) {
			case sendCommand:
				c.handleSend(ev.text)
			case sessionChanged:
				c.handleSessionChanged(ev)
			case sendCompleted:
				c.handleSendCompleted(ev)
			case messageReceived:
				c.appendEntry(PeerEntry(ev.msg.SenderName, ev.msg.Text))
			}
		}
	}
}

func (c *Coordinator) handleDiscovery(ev discovery.Event) {
	switch ev.Kind {
	case discovery.SearchStarted:
		c.appendEntry(SystemEntry(searchingNotice))
	case discovery.PeerFound:
		c.handlePeerFound(ev.Name)
	case discovery.PeerLost:
		log.Printf("[INFO] chat: peer %q is gone", ev.Name)
	case discovery.SearchFailed:
		log.Printf("[WARN] chat: peer search failed: %v", ev.Err)
	case discovery.SearchStopped:
		log.Printf("[DEBUG] chat: peer search stopped")
	}
}

// handlePeerFound opens one session per name. A failed session is
// replaced when its peer is announced again.
func (c *Coordinator) handlePeerFound(name string) {
	if name == c.identity {
		return
	}

	c.mu.RLock()
	existing, ok := c.sessions[name]
	c.mu.RUnlock()
	if ok && existing.sess.State() != session.Failed {
		return
	}
	if ok {
		log.Printf("[INFO] chat: reconnecting to %q", name)
		go existing.sess.Close()
	}

	if c.observer != nil {
		c.observer.PeerFound(name)
	}

	c.nextGen++
	gen := c.nextGen
	sess := session.Open(c.ctx, c.dialer, name, c.opts.Session, func(change session.StateChange) {
		c.post(sessionChanged{change: change, gen: gen})
	})

	c.mu.Lock()
	c.sessions[name] = &peerSession{sess: sess, gen: gen}
	c.mu.Unlock()
}

func (c *Coordinator) handleSessionChanged(ev sessionChanged) {
	c.mu.RLock()
	current, ok := c.sessions[ev.change.Peer]
	c.mu.RUnlock()
	if !ok || current.gen != ev.gen {
		return
	}

	if ev.change.To == session.Failed {
		log.Printf("[WARN] chat: session with %q failed: %v", ev.change.Peer, ev.change.Err)
	}
	if ev.change.Announce {
		c.appendEntry(SystemEntry(fmt.Sprintf(connectedNotice, ev.change.Peer)))
	}
}

func (c *Coordinator) handleSend(text string) {
	if text == "" {
		c.alert(ErrInvalidMessage)
		return
	}

	c.mu.RLock()
	targets := lo.Filter(lo.Values(c.sessions), func(ps *peerSession, _ int) bool {
		return ps.sess.State() != session.Failed
	})
	c.mu.RUnlock()
	if len(targets) == 0 {
		c.alert(ErrNoPeer)
		return
	}

	buf, err := codec.Encode(codec.ChatMessage{SenderName: c.identity, Text: text})
	if err != nil {
		c.alert(fmt.Errorf("%w: %v", ErrEncodeFailure, err))
		return
	}

	c.nextID++
	id := c.nextID
	c.sends[id] = &pendingSend{text: text, remaining: len(targets)}

	for _, ps := range targets {
		peer := ps.sess.PeerName()
		ps.sess.Send(buf, func(err error) {
			c.post(sendCompleted{id: id, peer: peer, err: err})
		})
	}
}

// handleSendCompleted appends one Own entry per send command, on the
// first successful delivery
func (c *Coordinator) handleSendCompleted(ev sendCompleted) {
	p, ok := c.sends[ev.id]
	if !ok {
		return
	}
	p.remaining--

	if ev.err != nil {
		log.Printf("[WARN] chat: send to %q failed: %v", ev.peer, ev.err)
		p.errs = append(p.errs, ev.err)
	} else if !p.delivered {
		p.delivered = true
		c.appendEntry(OwnEntry(p.text))
	}

	if p.remaining > 0 {
		return
	}
	delete(c.sends, ev.id)
	if !p.delivered {
		c.alert(fmt.Errorf("%w: %w", ErrSendFailed, errors.Join(p.errs...)))
	}
}

func (c *Coordinator) appendEntry(e LogEntry) {
	snapshot := c.log.Append(e)
	if c.observer != nil {
		c.observer.LogAppended(snapshot)
	}
}

func (c *Coordinator) alert(err error) {
	log.Printf("[DEBUG] chat: %v", err)
	if c.observer != nil {
		c.observer.Alert(alertFor(err))
	}
}
