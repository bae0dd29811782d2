//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../mocks/mock_session.go -package=mocks

// Package session manages the outbound side of a chat with one peer: a
// connectionless channel that is established asynchronously and a send
// queue that preserves submission order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lanchat/lanchat/internal/transport"
)

const (
	// DefaultConnectTimeout bounds name resolution plus dialing
	DefaultConnectTimeout = 5 * time.Second
	// DefaultSendTimeout bounds a single datagram write
	DefaultSendTimeout = 3 * time.Second
)

var (
	// ErrSessionFailed completes sends on a session that could not connect
	ErrSessionFailed = errors.New("session failed")
	// ErrSessionClosed completes sends on a closed session
	ErrSessionClosed = errors.New("session closed")
)

// State is the readiness of a session
type State int

const (
	Connecting State = iota
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dialer opens a channel to a peer by advertised name
type Dialer interface {
	Dial(ctx context.Context, name string) (transport.Conn, error)
}

// StateChange is reported for every transition.
// Announce is true on exactly one transition per session.
type StateChange struct {
	Peer     string
	From     State
	To       State
	Err      error
	Announce bool
}

// Options tune timeouts
type Options struct {
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

type sendRequest struct {
	buf  []byte
	done func(error)
}

// Session is one outbound channel to a single peer
type Session struct {
	peerName string
	opts     Options
	notify   func(StateChange)

	mu        sync.Mutex
	state     State
	conn      transport.Conn
	pending   []sendRequest
	announced bool
	closed    bool

	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Open starts establishing a channel to peerName and returns immediately.
// notify receives state transitions from the session goroutine.
func Open(ctx context.Context, dialer Dialer, peerName string, opts Options, notify func(StateChange)) *Session {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	if notify == nil {
		notify = func(StateChange) {}
	}

	s := &Session{
		peerName: peerName,
		opts:     opts,
		notify:   notify,
		state:    Connecting,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.run(dialer)
	return s
}

// PeerName returns the advertised name of the remote peer
func (s *Session) PeerName() string {
	return s.peerName
}

// State returns the current readiness state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send queues buf for delivery. done is called exactly once, never from
// the caller's goroutine.
func (s *Session) Send(buf []byte, done func(error)) {
	if done == nil {
		done = func(error) {}
	}

	s.mu.Lock()
	switch {
	case s.state == Failed:
		s.mu.Unlock()
		go done(fmt.Errorf("%w: %s", ErrSessionFailed, s.peerName))
		return
	case s.closed:
		s.mu.Unlock()
		go done(ErrSessionClosed)
		return
	}
	s.pending = append(s.pending, sendRequest{buf: buf, done: done})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close tears the session down and completes queued sends with
// ErrSessionClosed. It waits for the session goroutine to exit.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	<-s.done
}

// run dials, then drains the send queue in order until closed
func (s *Session) run(dialer Dialer) {
	defer close(s.done)
	defer s.shutdown()

	dialCtx, cancel := context.WithTimeout(s.ctx, s.opts.ConnectTimeout)
	conn, err := dialer.Dial(dialCtx, s.peerName)
	cancel()

	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		log.Printf("[WARN] session: connection to %q failed: %v", s.peerName, err)
		s.transition(Failed, nil, err)
		return
	}

	if s.ctx.Err() != nil {
		conn.Close()
		return
	}
	log.Printf("[INFO] session: channel to %q ready (%s)", s.peerName, conn.RemoteAddr())
	s.transition(Ready, conn, nil)

	for {
		s.flush(conn)
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
	}
}

// flush writes every queued buffer in submission order
func (s *Session) flush(conn transport.Conn) {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 || s.closed {
			s.mu.Unlock()
			return
		}
		req := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		conn.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout))
		_, err := conn.Write(req.buf)
		if err != nil {
			log.Printf("[WARN] session: send to %q failed: %v", s.peerName, err)
			err = fmt.Errorf("failed to send to %s: %w", s.peerName, err)
		}
		req.done(err)
	}
}

// transition moves out of Connecting and reports it
func (s *Session) transition(to State, conn transport.Conn, cause error) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.conn = conn
	announce := !s.announced && from == Connecting && to != Connecting
	if announce {
		s.announced = true
	}

	var failed []sendRequest
	if to == Failed {
		failed = s.pending
		s.pending = nil
	}
	s.mu.Unlock()

	for _, req := range failed {
		req.done(fmt.Errorf("%w: %s: %v", ErrSessionFailed, s.peerName, cause))
	}

	s.notify(StateChange{Peer: s.peerName, From: from, To: to, Err: cause, Announce: announce})
}

// shutdown releases the channel and completes anything still queued
func (s *Session) shutdown() {
	s.mu.Lock()
	s.closed = true
	conn := s.conn
	s.conn = nil
	leftover := s.pending
	s.pending = nil
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	for _, req := range leftover {
		req.done(ErrSessionClosed)
	}
}
