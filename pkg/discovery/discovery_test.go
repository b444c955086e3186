package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/helper/log"
	"swarmsync/pkg/identity"
)

func newKeys(t *testing.T) *identity.Keys {
	t.Helper()
	path := t.TempDir() + "/identity.pem"
	k, err := identity.LoadOrGenerate(path, log.NewBasicLogger(log.ErrorLevel))
	require.NoError(t, err)
	return k
}

func TestPresenceRoundTrip(t *testing.T) {
	keys := newKeys(t)
	raw, err := EncodePresence(keys, "dev-1", "laptop", "192.168.1.10", 4242, time.Now())
	require.NoError(t, err)

	p, err := DecodePresence(raw)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", p.DeviceID)
	assert.Equal(t, "laptop", p.Name)
	assert.Equal(t, "192.168.1.10", p.Address)
	assert.Equal(t, 4242, p.Port)
	assert.Equal(t, []byte(keys.PublicKey), []byte(p.PublicKey))
}

func TestPresenceRejectsTamperedSignature(t *testing.T) {
	keys := newKeys(t)
	raw, err := EncodePresence(keys, "dev-1", "laptop", "192.168.1.10", 4242, time.Now())
	require.NoError(t, err)

	tampered := append([]byte(nil), raw...)
	// Flip the datagram's trailing bytes (the end of the hex signature and its closing quote).
	for i := len(tampered) - 10; i < len(tampered)-1; i++ {
		tampered[i] ^= 0xFF
	}

	_, err = DecodePresence(tampered)
	assert.Error(t, err)
}

func TestLegacyPresenceParsing(t *testing.T) {
	raw := []byte("SWARM|dev-2|desktop|10.0.0.5|4242")
	p, err := DecodePresence(raw)
	require.NoError(t, err)
	assert.Equal(t, "dev-2", p.DeviceID)
	assert.Equal(t, "desktop", p.Name)
	assert.Equal(t, "10.0.0.5", p.Address)
	assert.Equal(t, 4242, p.Port)
	assert.Empty(t, p.PublicKey)
}

func TestTable_ObserveAndGet(t *testing.T) {
	table := NewTable(15*time.Second, log.NewBasicLogger(log.ErrorLevel))
	defer table.Stop()

	keys := newKeys(t)
	raw, err := EncodePresence(keys, "dev-3", "phone", "10.0.0.9", 4242, time.Now())
	require.NoError(t, err)
	p, err := DecodePresence(raw)
	require.NoError(t, err)

	require.NoError(t, table.Observe(p))

	got, ok := table.Get("dev-3")
	require.True(t, ok)
	assert.Equal(t, "phone", got.Name)
}

func TestTable_TrustConflictRejected(t *testing.T) {
	table := NewTable(15*time.Second, log.NewBasicLogger(log.ErrorLevel))
	defer table.Stop()

	keysA := newKeys(t)
	rawA, err := EncodePresence(keysA, "dev-4", "name-a", "10.0.0.1", 1, time.Now())
	require.NoError(t, err)
	pA, err := DecodePresence(rawA)
	require.NoError(t, err)
	require.NoError(t, table.Observe(pA))

	keysB := newKeys(t)
	rawB, err := EncodePresence(keysB, "dev-4", "name-b", "10.0.0.2", 2, time.Now())
	require.NoError(t, err)
	pB, err := DecodePresence(rawB)
	require.NoError(t, err)

	err = table.Observe(pB)
	assert.Error(t, err)
}

func TestNew_ConfiguresInboundRateLimiter(t *testing.T) {
	keys := newKeys(t)
	table := NewTable(15*time.Second, log.NewBasicLogger(log.ErrorLevel))
	defer table.Stop()

	d := New(keys, "dev-6", "desktop", 4242, table, log.NewBasicLogger(log.ErrorLevel))
	require.NotNil(t, d.limiter)
	assert.InDelta(t, float64(InboundDatagramRate), float64(d.limiter.Limit()), 0.0001)
	assert.Equal(t, InboundDatagramBurst, d.limiter.Burst())
}

func TestTable_SweepEvictsStalePeers(t *testing.T) {
	table := NewTable(50*time.Millisecond, log.NewBasicLogger(log.ErrorLevel))
	defer table.Stop()

	keys := newKeys(t)
	raw, err := EncodePresence(keys, "dev-5", "tablet", "10.0.0.3", 3, time.Now())
	require.NoError(t, err)
	p, err := DecodePresence(raw)
	require.NoError(t, err)
	require.NoError(t, table.Observe(p))

	_, ok := table.Get("dev-5")
	require.True(t, ok)

	time.Sleep(200 * time.Millisecond)
	table.sweep()

	_, ok = table.Get("dev-5")
	assert.False(t, ok)
}
