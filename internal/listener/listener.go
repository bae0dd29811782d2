// Package listener receives chat datagrams. Every remote address that
// sends to the listener gets its own inbound channel with a dedicated
// receive loop, so one noisy or broken peer never stalls the others.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/lanchat/lanchat/internal/codec"
)

const (
	// MaxDatagramSize is the largest payload read in one call
	MaxDatagramSize = 64 * 1024
	// DefaultIdleTimeout reaps inbound channels that went quiet
	DefaultIdleTimeout = 2 * time.Minute

	inboxSize = 64

	minReadBackoff = 5 * time.Millisecond
	maxReadBackoff = time.Second
)

// ErrListen wraps failures to bind the receive socket
var ErrListen = errors.New("failed to start listener")

// Handler receives every successfully decoded message
type Handler func(msg codec.ChatMessage, from net.Addr)

// Options tune the listener
type Options struct {
	IdleTimeout time.Duration
}

// Listener owns the receive socket and its inbound channels
type Listener struct {
	conn net.PacketConn
	opts Options

	mu       sync.Mutex
	channels map[string]*inbound

	name    string
	handler Handler
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// inbound is one remote sender as seen by the listener
type inbound struct {
	remote net.Addr
	inbox  chan []byte
}

// Listen binds a UDP socket on addr ("host:port", port 0 for ephemeral)
func Listen(addr string, opts Options) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w on %s: %v", ErrListen, addr, err)
	}
	return New(conn, opts), nil
}

// New wraps an already bound socket
func New(conn net.PacketConn, opts Options) *Listener {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	return &Listener{
		conn:     conn,
		opts:     opts,
		channels: make(map[string]*inbound),
	}
}

// Addr returns the bound address
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Port returns the bound UDP port
func (l *Listener) Port() int {
	if addr, ok := l.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start launches the accept loop. It returns immediately.
func (l *Listener) Start(ctx context.Context, advertisedName string, handler Handler) {
	l.startOnce.Do(func() {
		ctx, l.cancel = context.WithCancel(ctx)
		l.name = advertisedName
		l.handler = handler

		l.wg.Add(1)
		go l.acceptLoop(ctx)
		log.Printf("[INFO] listener: listening as %q on %s", advertisedName, l.Addr())
	})
}

// Close stops all loops and waits for them
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
		err = l.conn.Close()
		l.wg.Wait()
	})
	return err
}

// Channels returns the number of live inbound channels
func (l *Listener) Channels() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channels)
}

// acceptLoop reads datagrams and routes them to per-remote channels
func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.wg.Done()

	buf := make([]byte, MaxDatagramSize)
	var backoff time.Duration
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			// ICMP errors surface here on some platforms; the socket stays usable
			if backoff == 0 {
				backoff = minReadBackoff
			} else {
				backoff = min(2*backoff, maxReadBackoff)
			}
			log.Printf("[WARN] listener: read error: %v; retrying in %v", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		l.route(ctx, addr, datagram)
	}
}

// route hands a datagram to the channel of its sender, accepting a new
// channel on first contact
func (l *Listener) route(ctx context.Context, addr net.Addr, datagram []byte) {
	key := addr.String()

	l.mu.Lock()
	ch, ok := l.channels[key]
	if !ok {
		ch = &inbound{remote: addr, inbox: make(chan []byte, inboxSize)}
		l.channels[key] = ch
		l.wg.Add(1)
		go l.receiveLoop(ctx, ch)
	}
	// Enqueue under the lock so a reaped channel is never written to
	select {
	case ch.inbox <- datagram:
	default:
		log.Printf("[WARN] listener: inbox of %s full, dropping datagram", key)
	}
	l.mu.Unlock()

	if !ok {
		log.Printf("[INFO] listener: accepted channel from %s", key)
	}
}

// receiveLoop drains one channel until the listener stops or the channel
// stays idle for IdleTimeout
func (l *Listener) receiveLoop(ctx context.Context, ch *inbound) {
	defer l.wg.Done()

	idle := time.NewTimer(l.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case datagram := <-ch.inbox:
			l.handle(ch, datagram)
			idle.Reset(l.opts.IdleTimeout)

		case <-idle.C:
			if l.reap(ch) {
				log.Printf("[DEBUG] listener: channel from %s idle, closing", ch.remote)
				return
			}
			idle.Reset(l.opts.IdleTimeout)
		}
	}
}

// handle decodes one datagram. Malformed input is dropped.
func (l *Listener) handle(ch *inbound, datagram []byte) {
	if len(datagram) == 0 {
		return
	}
	msg, err := codec.Decode(datagram)
	if err != nil {
		log.Printf("[DEBUG] listener: dropping datagram from %s: %v", ch.remote, err)
		return
	}
	if l.handler != nil {
		l.handler(msg, ch.remote)
	}
}

// reap removes ch if nothing arrived meanwhile
func (l *Listener) reap(ch *inbound) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(ch.inbox) > 0 {
		return false
	}
	delete(l.channels, ch.remote.String())
	return true
}
