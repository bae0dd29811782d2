package listener

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lanchat/lanchat/internal/codec"
	"github.com/stretchr/testify/require"
)

type received struct {
	msg  codec.ChatMessage
	from net.Addr
}

func startListener(t *testing.T, opts Options) (*Listener, chan received) {
	t.Helper()
	l, err := Listen("127.0.0.1:0", opts)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	out := make(chan received, 16)
	l.Start(context.Background(), "Alice", func(msg codec.ChatMessage, from net.Addr) {
		out <- received{msg: msg, from: from}
	})
	return l, out
}

func dialListener(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *net.UDPConn, m codec.ChatMessage) {
	t.Helper()
	data, err := codec.Encode(m)
	require.NoError(t, err)
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func next(t *testing.T, out <-chan received) received {
	t.Helper()
	select {
	case r := <-out:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return received{}
	}
}

func TestListenerDecodesAndSkipsMalformed(t *testing.T) {
	l, out := startListener(t, Options{})
	require.NotZero(t, l.Port())
	conn := dialListener(t, l)

	send(t, conn, codec.ChatMessage{SenderName: "Bob", Text: "first"})
	_, err := conn.Write([]byte("garbage"))
	require.NoError(t, err)
	_, err = conn.Write([]byte{})
	require.NoError(t, err)
	send(t, conn, codec.ChatMessage{SenderName: "Bob", Text: "second"})

	r := next(t, out)
	require.Equal(t, codec.ChatMessage{SenderName: "Bob", Text: "first"}, r.msg)
	require.Equal(t, conn.LocalAddr().String(), r.from.String())

	r = next(t, out)
	require.Equal(t, "second", r.msg.Text)

	select {
	case extra := <-out:
		t.Fatalf("unexpected message %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestListenerChannelPerSender(t *testing.T) {
	l, out := startListener(t, Options{})
	bob := dialListener(t, l)
	carol := dialListener(t, l)

	send(t, bob, codec.ChatMessage{SenderName: "Bob", Text: "hi"})
	send(t, carol, codec.ChatMessage{SenderName: "Carol", Text: "hey"})

	senders := map[string]bool{}
	for i := 0; i < 2; i++ {
		senders[next(t, out).msg.SenderName] = true
	}
	require.Equal(t, map[string]bool{"Bob": true, "Carol": true}, senders)
	require.Equal(t, 2, l.Channels())
}

func TestListenerReapsIdleChannels(t *testing.T) {
	l, out := startListener(t, Options{IdleTimeout: 30 * time.Millisecond})
	conn := dialListener(t, l)

	send(t, conn, codec.ChatMessage{SenderName: "Bob", Text: "before"})
	next(t, out)

	require.Eventually(t, func() bool { return l.Channels() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A reaped sender is accepted again on its next datagram
	send(t, conn, codec.ChatMessage{SenderName: "Bob", Text: "after"})
	require.Equal(t, "after", next(t, out).msg.Text)
}

func TestListenFailsOnBusyPort(t *testing.T) {
	busy, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer busy.Close()

	_, err = Listen(busy.LocalAddr().String(), Options{})
	require.ErrorIs(t, err, ErrListen)
}

func TestListenerCloseIsIdempotent(t *testing.T) {
	l, _ := startListener(t, Options{})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}

// erroringConn fails every read with a non-timeout error until closed
type erroringConn struct {
	net.PacketConn
	reads  atomic.Int32
	closed atomic.Bool
}

func (c *erroringConn) ReadFrom(p []byte) (int, net.Addr, error) {
	c.reads.Add(1)
	if c.closed.Load() {
		return 0, nil, net.ErrClosed
	}
	return 0, nil, errors.New("port unreachable")
}

func (c *erroringConn) Close() error {
	c.closed.Store(true)
	return c.PacketConn.Close()
}

func TestListenerBacksOffOnReadErrors(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn := &erroringConn{PacketConn: pc}

	l := New(conn, Options{})
	l.Start(context.Background(), "Alice", nil)
	time.Sleep(150 * time.Millisecond)

	require.NoError(t, l.Close())
	reads := conn.reads.Load()
	require.GreaterOrEqual(t, reads, int32(2))
	require.Less(t, reads, int32(20))
}
