package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

func TestEntryAddr(t *testing.T) {
	entry := zeroconf.NewServiceEntry("Bob", DefaultServiceType, DefaultDomain)
	require.Nil(t, entryAddr(entry))

	entry.Port = 7000
	require.Nil(t, entryAddr(entry))

	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	require.Equal(t, "fe80::1", entryAddr(entry).IP.String())

	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	addr := entryAddr(entry)
	require.Equal(t, "192.168.1.20", addr.IP.String())
	require.Equal(t, 7000, addr.Port)
}

func TestMDNSHandleEntry(t *testing.T) {
	m := NewMDNS(Options{})
	ctx := context.Background()

	entry := zeroconf.NewServiceEntry("Bob", DefaultServiceType, DefaultDomain)
	entry.Port = 7000
	entry.TTL = 120
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	m.handleEntry(ctx, entry)

	ev := <-m.Events()
	require.Equal(t, PeerFound, ev.Kind)
	require.Equal(t, "Bob", ev.Name)

	addr, err := m.Resolve(ctx, "Bob")
	require.NoError(t, err)
	require.Equal(t, 7000, addr.Port)

	require.Empty(t, m.Events())
}

func TestMDNSCheckPeersReportsLossAndReturn(t *testing.T) {
	m := NewMDNS(Options{})
	ctx := context.Background()

	entry := zeroconf.NewServiceEntry("Bob", DefaultServiceType, DefaultDomain)
	entry.Port = 7000
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	m.handleEntry(ctx, entry)
	require.Equal(t, PeerFound, (<-m.Events()).Kind)

	gone := errors.New("no answer")
	answers := map[string]*net.UDPAddr{}
	m.lookup = func(ctx context.Context, name string) (*net.UDPAddr, error) {
		if addr, ok := answers[name]; ok {
			return addr, nil
		}
		return nil, gone
	}

	// One missed lookup is tolerated
	m.checkPeers(ctx)
	require.Empty(t, m.Events())
	_, err := m.Resolve(ctx, "Bob")
	require.NoError(t, err)

	m.checkPeers(ctx)
	ev := <-m.Events()
	require.Equal(t, PeerLost, ev.Kind)
	require.Equal(t, "Bob", ev.Name)
	_, err = m.Resolve(ctx, "Bob")
	require.ErrorIs(t, err, gone)

	// Still gone: no duplicate PeerLost
	m.checkPeers(ctx)
	require.Empty(t, m.Events())

	answers["Bob"] = &net.UDPAddr{IP: net.IPv4(192, 168, 1, 21), Port: 7001}
	m.checkPeers(ctx)
	ev = <-m.Events()
	require.Equal(t, PeerFound, ev.Kind)
	require.Equal(t, "Bob", ev.Name)

	addr, err := m.Resolve(ctx, "Bob")
	require.NoError(t, err)
	require.Equal(t, 7001, addr.Port)
}

func TestMDNSCheckPeersResetsMissesOnAnswer(t *testing.T) {
	m := NewMDNS(Options{})
	ctx := context.Background()

	entry := zeroconf.NewServiceEntry("Bob", DefaultServiceType, DefaultDomain)
	entry.Port = 7000
	entry.AddrIPv4 = []net.IP{net.IPv4(192, 168, 1, 20)}
	m.handleEntry(ctx, entry)
	<-m.Events()

	fail := true
	m.lookup = func(ctx context.Context, name string) (*net.UDPAddr, error) {
		if fail {
			return nil, errors.New("no answer")
		}
		return &net.UDPAddr{IP: net.IPv4(192, 168, 1, 20), Port: 7000}, nil
	}

	m.checkPeers(ctx)
	fail = false
	m.checkPeers(ctx)
	fail = true
	m.checkPeers(ctx)
	require.Empty(t, m.Events())
}

func TestMDNSStopBeforeStartIsNoop(t *testing.T) {
	m := NewMDNS(Options{ServiceType: "_test._udp"})
	m.Stop()
	m.Shutdown()
	require.Equal(t, "_test._udp", m.opts.ServiceType)
	require.Equal(t, DefaultDomain, m.opts.Domain)
}
