package pool

import (
	"context"
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/helper/log"
)

func TestPool_AcquireDialsAndReusesHealthyChannel(t *testing.T) {
	keysServer := newIdentity(t)
	keysClient := newIdentity(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				_, _ = HandshakeInbound(c, keysServer, func(pub ed25519.PublicKey) error { return nil })
			}(conn)
		}
	}()

	p := New(keysClient, func(pub ed25519.PublicKey) error { return nil }, log.NewBasicLogger(log.ErrorLevel))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch1, err := p.Acquire(ctx, listener.Addr().String())
	require.NoError(t, err)
	require.NotNil(t, ch1)
	assert.Equal(t, []byte(keysServer.PublicKey), []byte(ch1.PeerIdentity))

	ch2, err := p.Acquire(ctx, listener.Addr().String())
	require.NoError(t, err)
	assert.Same(t, ch1, ch2)
}

func TestPool_ReleaseWithErrorMarksBroken(t *testing.T) {
	keysServer := newIdentity(t)
	keysClient := newIdentity(t)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				_, _ = HandshakeInbound(c, keysServer, func(pub ed25519.PublicKey) error { return nil })
			}(conn)
		}
	}()

	p := New(keysClient, func(pub ed25519.PublicKey) error { return nil }, log.NewBasicLogger(log.ErrorLevel))
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := listener.Addr().String()
	ch1, err := p.Acquire(ctx, addr)
	require.NoError(t, err)

	p.Release(addr, ch1, assert.AnError)
	assert.False(t, ch1.isHealthy())

	ch2, err := p.Acquire(ctx, addr)
	require.NoError(t, err)
	assert.NotSame(t, ch1, ch2)
}

func TestPool_AcquireFailsAfterRetriesExhausted(t *testing.T) {
	keysClient := newIdentity(t)
	p := New(keysClient, func(pub ed25519.PublicKey) error { return nil }, log.NewBasicLogger(log.ErrorLevel))
	defer p.Close()

	savedDelays := RetryDelays
	RetryDelays = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	defer func() { RetryDelays = savedDelays }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := p.Acquire(ctx, "127.0.0.1:1")
	assert.Error(t, err)
}
