// Package pool manages one healthy, authenticated duplex channel per
// peer address, handling the handshake, retry policy, and lazy health
// tracking that let the sync engine treat "send to this peer" as a
// single call regardless of whether a live connection already exists.
package pool

import (
	"context"
	"crypto/ed25519"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
	"swarmsync/pkg/secure"
)

// RetryDelays is the backoff schedule between connection attempts.
var RetryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Channel is one pooled, authenticated duplex connection to a peer.
type Channel struct {
	Stream       *secure.Stream
	PeerIdentity ed25519.PublicKey

	conn   net.Conn
	broken atomic.Bool
}

// MarkBroken flags the channel as unusable; the next Acquire for its key
// will dial and handshake a replacement instead of reusing it.
func (c *Channel) MarkBroken() { c.broken.Store(true) }

func (c *Channel) isHealthy() bool { return !c.broken.Load() }

// Metrics tracks pool-wide counters for observability.
type Metrics struct {
	ActiveChannels    atomic.Int64
	DialAttempts      atomic.Int64
	DialFailures      atomic.Int64
	HandshakeFailures atomic.Int64
	Reuses            atomic.Int64
}

// Pool owns at most one live Channel per "address:port" key.
type Pool struct {
	keys       *identity.Keys
	verifyPeer VerifyPeer
	dialer     net.Dialer
	logger     log.Logger

	entries sync.Map // string -> *Channel
	sf      singleflight.Group
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Pool. verifyPeer is invoked during every handshake to
// decide whether to trust the peer's presented identity key.
func New(keys *identity.Keys, verifyPeer VerifyPeer, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		keys:       keys,
		verifyPeer: verifyPeer,
		logger:     logger.WithField("component", "pool"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Acquire returns a healthy Channel for address, reusing a pooled one if
// it passes its non-blocking health check, or dialing and handshaking a
// fresh one otherwise. Concurrent Acquire calls for the same address
// share one in-flight dial via singleflight so a burst of outbound
// messages to a newly seen peer opens exactly one connection.
func (p *Pool) Acquire(ctx context.Context, address string) (*Channel, error) {
	if val, ok := p.entries.Load(address); ok {
		ch := val.(*Channel)
		if ch.isHealthy() {
			p.metrics.Reuses.Add(1)
			return ch, nil
		}
		p.entries.Delete(address)
	}

	result, err, _ := p.sf.Do(address, func() (interface{}, error) {
		if val, ok := p.entries.Load(address); ok {
			if ch := val.(*Channel); ch.isHealthy() {
				return ch, nil
			}
			p.entries.Delete(address)
		}
		return p.dialAndHandshake(ctx, address)
	})
	if err != nil {
		return nil, err
	}
	ch := result.(*Channel)
	p.entries.Store(address, ch)
	p.metrics.ActiveChannels.Store(p.countEntries())
	return ch, nil
}

func (p *Pool) countEntries() int64 {
	var n int64
	p.entries.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}

func (p *Pool) dialAndHandshake(ctx context.Context, address string) (*Channel, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		p.metrics.DialAttempts.Add(1)
		conn, err := p.dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			lastErr = err
			p.metrics.DialFailures.Add(1)
		} else {
			ch, herr := p.handshakeOn(conn)
			if herr == nil {
				return ch, nil
			}
			lastErr = herr
			p.metrics.HandshakeFailures.Add(1)
			conn.Close()
		}

		if attempt >= len(RetryDelays) {
			return nil, errors.Wrap(lastErr, "failed to connect to %s after %d attempts", address, attempt+1)
		}

		p.logger.WithFields(map[string]interface{}{
			"address": address,
			"attempt": attempt + 1,
			"error":   lastErr.Error(),
		}).Warn("connection attempt failed, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(RetryDelays[attempt]):
		}
	}
}

func (p *Pool) handshakeOn(conn net.Conn) (*Channel, error) {
	result, err := performHandshake(conn, p.keys, p.verifyPeer)
	if err != nil {
		return nil, err
	}
	stream := secure.New(conn, result.SessionKey)
	return &Channel{Stream: stream, PeerIdentity: result.PeerIdentity, conn: conn}, nil
}

// Release returns ch to the pool. If err is non-nil the channel is
// marked broken so the next Acquire dials a replacement; the caller
// should call Release exactly once after it is done with a borrowed
// Channel for a single logical operation.
func (p *Pool) Release(address string, ch *Channel, err error) {
	if err != nil {
		ch.MarkBroken()
		ch.conn.Close()
		p.entries.Delete(address)
		p.metrics.ActiveChannels.Store(p.countEntries())
	}
}

// Accept registers an inbound connection that has already completed a
// handshake (performed by the listener) as the pooled channel for
// address, replacing any existing one.
func (p *Pool) Accept(address string, ch *Channel) {
	p.entries.Store(address, ch)
	p.metrics.ActiveChannels.Store(p.countEntries())
}

// Close tears down every pooled channel and stops background work.
func (p *Pool) Close() {
	p.cancel()
	p.entries.Range(func(key, val interface{}) bool {
		ch := val.(*Channel)
		ch.conn.Close()
		p.entries.Delete(key)
		return true
	})
}

// HandshakeInbound performs the server side of the handshake on an
// accepted connection and wraps it as a Channel, for callers that listen
// for inbound peer connections rather than dialing out.
func HandshakeInbound(conn net.Conn, keys *identity.Keys, verify VerifyPeer) (*Channel, error) {
	result, err := performHandshake(conn, keys, verify)
	if err != nil {
		return nil, err
	}
	stream := secure.New(conn, result.SessionKey)
	return &Channel{Stream: stream, PeerIdentity: result.PeerIdentity, conn: conn}, nil
}
