package debug

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerHandsOutConnections(t *testing.T) {
	l, err := Listen(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, l.Port())

	c, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	got, err := l.Next(ctx)
	require.NoError(t, err)
	defer got.Close()
	assert.Equal(t, c.LocalAddr().String(), got.RemoteAddr().String())
}

func TestListenerAcceptTimeout(t *testing.T) {
	l, err := Listen(ListenerConfig{Address: "127.0.0.1:0", AcceptTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrSessionTimeout)
}

func TestListenerInterrupt(t *testing.T) {
	var pressed atomic.Bool
	l, err := Listen(ListenerConfig{
		Address:   "127.0.0.1:0",
		Interrupt: pressed.Load,
	})
	require.NoError(t, err)
	defer l.Close()

	time.AfterFunc(50*time.Millisecond, func() { pressed.Store(true) })
	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrUserInterrupt)
}

func TestListenerContextAndClose(t *testing.T) {
	l, err := Listen(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	_, err = l.Next(context.Background())
	assert.ErrorIs(t, err, ErrListenerClosed)
}

func TestListenBusyPort(t *testing.T) {
	l, err := Listen(ListenerConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)
	defer l.Close()

	_, err = Listen(ListenerConfig{Address: l.Addr().String()})
	assert.Error(t, err)
}
