package commands

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/lanchat/lanchat/internal/chat"
	"github.com/lanchat/lanchat/internal/config"
	"github.com/lanchat/lanchat/internal/discovery"
	"github.com/stretchr/testify/require"
)

func TestTerminalObserverPrintsOnlyNewEntries(t *testing.T) {
	var buf bytes.Buffer
	o := &terminalObserver{w: &buf}

	first := []chat.LogEntry{chat.SystemEntry("start searching services")}
	o.LogAppended(first)
	o.LogAppended(append(first, chat.PeerEntry("bob", "hi")))

	out := buf.String()
	require.Equal(t, 1, bytes.Count([]byte(out), []byte("start searching services")))
	require.Contains(t, out, "bob:")
	require.Contains(t, out, "hi")
}

func TestCollectPeersDropsLostPeers(t *testing.T) {
	events := make(chan discovery.Event, 4)
	events <- discovery.Event{Kind: discovery.SearchStarted}
	events <- discovery.Event{Kind: discovery.PeerFound, Name: "carol"}
	events <- discovery.Event{Kind: discovery.PeerFound, Name: "alice"}
	events <- discovery.Event{Kind: discovery.PeerLost, Name: "carol"}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	require.Equal(t, []string{"alice"}, collectPeers(ctx, events))
}

func TestNewDiscoverySelectsBackend(t *testing.T) {
	cfg := config.Default()

	disc, err := newDiscovery(cfg)
	require.NoError(t, err)
	require.IsType(t, &discovery.MDNS{}, disc)

	cfg.Discovery = config.DiscoveryBroadcast
	cfg.BroadcastPort = 1
	cfg.SeedPeers = []string{"not a host port"}
	_, err = newDiscovery(cfg)
	require.Error(t, err)

	cfg.Discovery = "carrier-pigeon"
	_, err = newDiscovery(cfg)
	require.Error(t, err)
}
