package transport_test

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

func TestUDPDialerDeliversDatagram(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)

	sink, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer sink.Close()

	resolver.EXPECT().Resolve(gomock.Any(), "Bob").Return(sink.LocalAddr().(*net.UDPAddr), nil).Times(1)

	d := transport.UDPDialer{Resolver: resolver}
	conn, err := d.Dial(context.Background(), "Bob")
	require.NoError(t, err)
	defer conn.Close()

	require.Equal(t, sink.LocalAddr().String(), conn.RemoteAddr().String())

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 16)
	require.NoError(t, sink.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := sink.ReadFromUDP(buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf[:n]))
}

func TestUDPDialerUnknownName(t *testing.T) {
	ctrl := gomock.NewController(t)
	resolver := mocks.NewMockResolver(ctrl)
	unknown := errors.New("unknown")
	resolver.EXPECT().Resolve(gomock.Any(), "Nobody").Return(nil, unknown)

	d := transport.UDPDialer{Resolver: resolver}
	_, err := d.Dial(context.Background(), "Nobody")
	require.ErrorIs(t, err, unknown)
	require.ErrorContains(t, err, "Nobody")
}
