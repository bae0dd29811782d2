// Package discovery advertises the local chat identity on the LAN and
// browses for other identities under the same service type and domain.
package discovery

import (
	"context"
	"errors"
	"net"
)

const (
	// DefaultServiceType is the DNS-SD service type shared by all lanchat instances
	DefaultServiceType = "_lanchat._udp"
	// DefaultDomain is the discovery scope (link-local multicast DNS)
	DefaultDomain = "local."

	eventBuffer = 64
)

var (
	// ErrUnknownPeer is returned by Resolve for names that were never discovered
	ErrUnknownPeer = errors.New("peer not discovered")
	// ErrAlreadyStarted is returned when AdvertiseAndBrowse is called twice
	ErrAlreadyStarted = errors.New("discovery already started")
)

// EventKind identifies a discovery event
type EventKind int

const (
	SearchStarted EventKind = iota
	PeerFound
	PeerLost
	SearchFailed
	SearchStopped
)

func (k EventKind) String() string {
	switch k {
	case SearchStarted:
		return "search-started"
	case PeerFound:
		return "peer-found"
	case PeerLost:
		return "peer-lost"
	case SearchFailed:
		return "search-failed"
	case SearchStopped:
		return "search-stopped"
	default:
		return "unknown"
	}
}

// Event is delivered on Service.Events.
// Name is set for PeerFound and PeerLost, Err for SearchFailed.
type Event struct {
	Kind EventKind
	Name string
	Err  error
}

// Service is the advertiser/browser pair used by the chat coordinator.
type Service interface {
	// AdvertiseAndBrowse announces identity on port and starts browsing.
	// An empty identity browses without advertising. It does not block.
	AdvertiseAndBrowse(ctx context.Context, identity string, port int) error
	// Events returns the event stream. It is never closed.
	Events() <-chan Event
	// Resolve returns the chat endpoint of a discovered peer.
	Resolve(ctx context.Context, name string) (*net.UDPAddr, error)
	// Stop halts browsing. The advertisement stays live.
	Stop()
	// Shutdown retracts the advertisement and releases everything.
	Shutdown()
}

// Options are shared by both backends.
type Options struct {
	ServiceType string
	Domain      string
}

func (o Options) withDefaults() Options {
	if o.ServiceType == "" {
		o.ServiceType = DefaultServiceType
	}
	if o.Domain == "" {
		o.Domain = DefaultDomain
	}
	return o
}

// emitter delivers events without blocking past ctx cancellation.
type emitter struct {
	ch chan Event
}

func newEmitter() emitter {
	return emitter{ch: make(chan Event, eventBuffer)}
}

func (e emitter) emit(ctx context.Context, ev Event) {
	select {
	case e.ch <- ev:
	case <-ctx.Done():
	}
}

// tryEmit drops ev when nobody is draining the stream.
func (e emitter) tryEmit(ev Event) {
	select {
	case e.ch <- ev:
	default:
	}
}
