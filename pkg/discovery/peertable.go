package discovery

import (
	"crypto/ed25519"
	"sync"
	"time"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
)

// DefaultPeerTTL is how long a peer is kept after its last announcement
// before it is swept from the table.
const DefaultPeerTTL = 15 * time.Second

// SweepInterval is how often the table checks for expired peers.
const SweepInterval = 5 * time.Second

// Peer is a known, currently-live peer on the LAN.
type Peer struct {
	DeviceID  string
	Name      string
	Address   string
	Port      int
	PublicKey ed25519.PublicKey
	LastSeen  time.Time
}

// Table tracks currently-live peers with TOFU trust pinning: the first
// public key seen for a DeviceID is trusted permanently; a later
// announcement under the same DeviceID with a different key is a trust
// conflict and is rejected rather than silently overwriting the pin.
type Table struct {
	ttl    time.Duration
	logger log.Logger

	mu      sync.RWMutex
	peers   map[string]*Peer
	trusted map[string]ed25519.PublicKey

	stop chan struct{}
	once sync.Once
}

// NewTable creates a peer table with the given TTL (DefaultPeerTTL if
// zero) and starts its background sweep goroutine.
func NewTable(ttl time.Duration, logger log.Logger) *Table {
	if ttl <= 0 {
		ttl = DefaultPeerTTL
	}
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	t := &Table{
		ttl:     ttl,
		logger:  logger.WithField("component", "discovery"),
		peers:   make(map[string]*Peer),
		trusted: make(map[string]ed25519.PublicKey),
		stop:    make(chan struct{}),
	}
	go t.sweepLoop()
	return t
}

// Observe records a presence announcement. It returns ErrTrustConflict
// if the announcement's public key disagrees with a previously pinned
// key for the same device ID.
func (t *Table) Observe(p Presence) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p.PublicKey) == ed25519.PublicKeySize {
		if pinned, ok := t.trusted[p.DeviceID]; ok {
			if string(pinned) != string(p.PublicKey) {
				return errors.TrustConflictf("device %s announced with a different public key than previously trusted", p.DeviceID)
			}
		} else {
			t.trusted[p.DeviceID] = p.PublicKey
			t.logger.WithField("device_id", p.DeviceID).Info("pinned new peer identity on first contact")
		}
	}

	t.peers[p.DeviceID] = &Peer{
		DeviceID:  p.DeviceID,
		Name:      p.Name,
		Address:   p.Address,
		Port:      p.Port,
		PublicKey: p.PublicKey,
		LastSeen:  time.Now(),
	}
	return nil
}

// Get returns the currently known peer for deviceID, if live.
func (t *Table) Get(deviceID string) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[deviceID]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// List returns a snapshot of every currently live peer.
func (t *Table) List() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// TrustedKey returns the pinned public key for deviceID, if any.
func (t *Table) TrustedKey(deviceID string) (ed25519.PublicKey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	k, ok := t.trusted[deviceID]
	return k, ok
}

func (t *Table) sweepLoop() {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-t.stop:
			return
		}
	}
}

func (t *Table) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	for id, p := range t.peers {
		if now.Sub(p.LastSeen) > t.ttl {
			delete(t.peers, id)
			t.logger.WithField("device_id", id).Debug("evicted stale peer")
		}
	}
}

// Stop terminates the background sweep goroutine.
func (t *Table) Stop() {
	t.once.Do(func() { close(t.stop) })
}
