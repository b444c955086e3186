// Package discovery implements signed UDP presence broadcasting and
// listening: how peers on the same LAN find each other before a secure
// channel is ever opened between them.
package discovery

import (
	"context"
	"math/rand"
	"net"
	"time"

	"golang.org/x/time/rate"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
)

// Port is the UDP port used for presence broadcast and listening.
const Port = 37420

// BroadcastInterval is the nominal period between presence announcements.
// Actual sends are jittered by up to BroadcastJitter to avoid every peer
// on a LAN announcing in lockstep.
const BroadcastInterval = 3 * time.Second

// BroadcastJitter bounds the random delay added to each broadcast tick.
const BroadcastJitter = 500 * time.Millisecond

// InboundDatagramRate bounds how many presence datagrams per second the
// listen loop will decode, so a misbehaving or flooding host on the LAN
// can't burn the process's CPU on signature verification.
const InboundDatagramRate = 20

// InboundDatagramBurst allows short bursts above InboundDatagramRate,
// since several peers can legitimately announce in the same tick.
const InboundDatagramBurst = 40

// Discoverer owns a device's UDP presence broadcast loop and listener,
// feeding every verified announcement into a Table.
type Discoverer struct {
	keys        *identity.Keys
	deviceID    string
	deviceName  string
	servicePort int
	logger      log.Logger

	table *Table

	conn    *net.UDPConn
	limiter *rate.Limiter
}

// New creates a Discoverer. servicePort is the TCP port this device
// accepts authenticated sync connections on, announced alongside its
// identity so peers know where to dial back.
func New(keys *identity.Keys, deviceID, deviceName string, servicePort int, table *Table, logger log.Logger) *Discoverer {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &Discoverer{
		keys:        keys,
		deviceID:    deviceID,
		deviceName:  deviceName,
		servicePort: servicePort,
		logger:      logger.WithField("component", "discovery"),
		table:       table,
		limiter:     rate.NewLimiter(rate.Limit(InboundDatagramRate), InboundDatagramBurst),
	}
}

// Run opens the UDP socket and runs the broadcast and listen loops until
// ctx is canceled. If binding the well-known port fails (another process
// already owns it, as can happen when two instances share a host), Run
// falls back to an ephemeral send-only port: this device can still
// announce itself but won't receive announcements from peers.
func (d *Discoverer) Run(ctx context.Context) error {
	conn, listenErr := net.ListenUDP("udp4", &net.UDPAddr{Port: Port})
	if listenErr != nil {
		d.logger.WithError(listenErr).Warn("failed to bind discovery port, falling back to send-only mode")
		conn, listenErr = net.ListenUDP("udp4", &net.UDPAddr{Port: 0})
		if listenErr != nil {
			return errors.Wrap(listenErr, "failed to open any UDP socket for discovery")
		}
	}
	d.conn = conn
	defer conn.Close()

	broadcastAddr := &net.UDPAddr{IP: net.IPv4bcast, Port: Port}

	errs := make(chan error, 2)
	go func() { errs <- d.broadcastLoop(ctx, broadcastAddr) }()
	go func() { errs <- d.listenLoop(ctx) }()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		<-errs
		<-errs
		return nil
	case err := <-errs:
		_ = conn.Close()
		return err
	}
}

func (d *Discoverer) broadcastLoop(ctx context.Context, broadcastAddr *net.UDPAddr) error {
	for {
		jitter := time.Duration(rand.Int63n(int64(BroadcastJitter)))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(BroadcastInterval + jitter):
		}

		localAddr := ""
		if udpAddr, ok := d.conn.LocalAddr().(*net.UDPAddr); ok {
			localAddr = udpAddr.IP.String()
		}

		payload, err := EncodePresence(d.keys, d.deviceID, d.deviceName, localAddr, d.servicePort, time.Now())
		if err != nil {
			d.logger.WithError(err).Warn("failed to encode presence announcement")
			continue
		}
		if _, err := d.conn.WriteToUDP(payload, broadcastAddr); err != nil {
			d.logger.WithError(err).Debug("failed to send presence broadcast")
		}
	}
}

func (d *Discoverer) listenLoop(ctx context.Context) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		_ = d.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		if !d.limiter.Allow() {
			d.logger.Debug("dropped presence datagram, inbound rate exceeded")
			continue
		}

		presence, err := DecodePresence(buf[:n])
		if err != nil {
			d.logger.WithError(err).Debug("dropped malformed presence datagram")
			continue
		}
		if presence.DeviceID == d.deviceID {
			continue
		}
		if err := d.table.Observe(presence); err != nil {
			d.logger.WithError(err).Warn("rejected presence announcement")
		}
	}
}
