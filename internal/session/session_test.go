package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lanchat/lanchat/internal/mocks"
	"github.com/lanchat/lanchat/internal/transport"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func collectChanges() (chan StateChange, func(StateChange)) {
	ch := make(chan StateChange, 8)
	return ch, func(c StateChange) { ch <- c }
}

func waitChange(t *testing.T, ch <-chan StateChange) StateChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for state change")
		return StateChange{}
	}
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send completion")
		return nil
	}
}

func TestSessionReadyAndOrderedSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sink.Close()

	dialer.EXPECT().Dial(gomock.Any(), "Bob").DoAndReturn(
		func(ctx context.Context, name string) (transport.Conn, error) {
			return net.DialUDP("udp4", nil, sink.LocalAddr().(*net.UDPAddr))
		}).Times(1)

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{}, notify)
	defer s.Close()
	require.Equal(t, "Bob", s.PeerName())

	// Sends queued while connecting are flushed once ready
	done := make(chan error, 3)
	for _, msg := range []string{"one", "two", "three"} {
		s.Send([]byte(msg), func(err error) { done <- err })
	}

	c := waitChange(t, changes)
	require.Equal(t, Connecting, c.From)
	require.Equal(t, Ready, c.To)
	require.True(t, c.Announce)
	require.Equal(t, Ready, s.State())

	for i := 0; i < 3; i++ {
		require.NoError(t, waitErr(t, done))
	}

	buf := make([]byte, 64)
	for _, want := range []string{"one", "two", "three"} {
		require.NoError(t, sink.SetReadDeadline(time.Now().Add(2*time.Second)))
		n, _, err := sink.ReadFromUDP(buf)
		require.NoError(t, err)
		require.Equal(t, want, string(buf[:n]))
	}

	select {
	case extra := <-changes:
		t.Fatalf("unexpected extra state change %+v", extra)
	default:
	}
}

func TestSessionDialFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	release := make(chan struct{})
	refused := errors.New("no route to peer")
	dialer.EXPECT().Dial(gomock.Any(), "Bob").DoAndReturn(
		func(ctx context.Context, name string) (transport.Conn, error) {
			<-release
			return nil, refused
		})

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{}, notify)
	defer s.Close()

	queued := make(chan error, 1)
	s.Send([]byte("early"), func(err error) { queued <- err })
	close(release)

	c := waitChange(t, changes)
	require.Equal(t, Failed, c.To)
	require.True(t, c.Announce)
	require.ErrorIs(t, c.Err, refused)

	require.ErrorIs(t, waitErr(t, queued), ErrSessionFailed)

	late := make(chan error, 1)
	s.Send([]byte("late"), func(err error) { late <- err })
	require.ErrorIs(t, waitErr(t, late), ErrSessionFailed)
	require.Equal(t, Failed, s.State())
}

func TestSessionConnectTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), "Bob").DoAndReturn(
		func(ctx context.Context, name string) (transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{ConnectTimeout: 20 * time.Millisecond}, notify)
	defer s.Close()

	c := waitChange(t, changes)
	require.Equal(t, Failed, c.To)
	require.ErrorIs(t, c.Err, context.DeadlineExceeded)
}

func TestSessionWriteErrorKeepsSessionReady(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)
	conn := mocks.NewMockConn(ctrl)

	writeErr := errors.New("connection refused")
	dialer.EXPECT().Dial(gomock.Any(), "Bob").Return(conn, nil)
	conn.EXPECT().RemoteAddr().Return(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}).AnyTimes()
	conn.EXPECT().SetWriteDeadline(gomock.Any()).Return(nil).Times(2)
	gomock.InOrder(
		conn.EXPECT().Write([]byte("first")).Return(0, writeErr),
		conn.EXPECT().Write([]byte("second")).Return(6, nil),
	)
	conn.EXPECT().Close().Return(nil).Times(1)

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{}, notify)
	require.Equal(t, Ready, waitChange(t, changes).To)

	done := make(chan error, 2)
	s.Send([]byte("first"), func(err error) { done <- err })
	require.ErrorIs(t, waitErr(t, done), writeErr)

	s.Send([]byte("second"), func(err error) { done <- err })
	require.NoError(t, waitErr(t, done))
	require.Equal(t, Ready, s.State())

	s.Close()
	s.Close()
}

func TestSessionSendAfterClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	dialer.EXPECT().Dial(gomock.Any(), "Bob").DoAndReturn(
		func(ctx context.Context, name string) (transport.Conn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{}, notify)

	pending := make(chan error, 1)
	s.Send([]byte("pending"), func(err error) { pending <- err })
	s.Close()
	require.ErrorIs(t, waitErr(t, pending), ErrSessionClosed)

	after := make(chan error, 1)
	s.Send([]byte("after"), func(err error) { after <- err })
	require.ErrorIs(t, waitErr(t, after), ErrSessionClosed)

	// A session closed while connecting reports nothing
	require.Empty(t, changes)
}

func TestSessionSendAfterFailedShutdownReportsFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	dialer := mocks.NewMockDialer(ctrl)

	refused := errors.New("no route to peer")
	dialer.EXPECT().Dial(gomock.Any(), "Bob").Return(nil, refused)

	changes, notify := collectChanges()
	s := Open(context.Background(), dialer, "Bob", Options{}, notify)
	require.Equal(t, Failed, waitChange(t, changes).To)

	// the session goroutine has exited and released its resources
	<-s.done

	late := make(chan error, 1)
	s.Send([]byte("late"), func(err error) { late <- err })
	err := waitErr(t, late)
	require.ErrorIs(t, err, ErrSessionFailed)
	require.NotErrorIs(t, err, ErrSessionClosed)

	s.Close()
	s.Send([]byte("after close"), func(err error) { late <- err })
	require.ErrorIs(t, waitErr(t, late), ErrSessionFailed)
}
