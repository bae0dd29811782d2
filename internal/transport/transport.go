//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

// Package transport dials connectionless channels to peers that are known
// by their advertised name rather than by address.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Conn is one outbound datagram channel.
type Conn interface {
	Write(b []byte) (int, error)
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
	Close() error
}

// Resolver maps an advertised peer name to its chat endpoint.
// discovery.Service satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*net.UDPAddr, error)
}

// UDPDialer resolves names through discovery and dials UDP
type UDPDialer struct {
	Resolver Resolver
}

// Dial resolves name and returns a connected UDP socket.
// UDP dialing never waits for the remote; only resolution can block.
func (d UDPDialer) Dial(ctx context.Context, name string) (Conn, error) {
	addr, err := d.Resolver.Resolve(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %q: %w", name, err)
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %q at %s: %w", name, addr, err)
	}
	return conn.(*net.UDPConn), nil
}
