package secure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/identity"
)

func sessionKey(t *testing.T) []byte {
	t.Helper()
	a, err := identity.NewEphemeral()
	require.NoError(t, err)
	b, err := identity.NewEphemeral()
	require.NoError(t, err)
	key, err := identity.DeriveSessionKey(a.Private, b.Public)
	require.NoError(t, err)
	return key
}

func TestStream_WriteReadMessage(t *testing.T) {
	key := sessionKey(t)
	pipe := &bytes.Buffer{}
	s := New(pipe, key)

	require.NoError(t, s.WriteMessage([]byte("hello world")))
	msg, err := s.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(msg))
}

func TestStream_ShortReadsPreserveOrder(t *testing.T) {
	key := sessionKey(t)
	pipe := &bytes.Buffer{}
	s := New(pipe, key)

	require.NoError(t, s.WriteMessage([]byte("0123456789")))

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(buf[:n]))

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "4567", string(buf[:n]))

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "89", string(buf[:n]))
}

func TestStream_OverLimitRecordRejected(t *testing.T) {
	key := sessionKey(t)
	pipe := &bytes.Buffer{}
	s := NewWithLimit(pipe, key, 64)

	err := s.WriteMessage(make([]byte, 1024))
	require.Error(t, err)
}

func TestStream_MultipleMessagesInOrder(t *testing.T) {
	key := sessionKey(t)
	pipe := &bytes.Buffer{}
	s := New(pipe, key)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.WriteMessage([]byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		msg, err := s.ReadMessage()
		require.NoError(t, err)
		require.Len(t, msg, 1)
		assert.Equal(t, byte(i), msg[0])
	}
}
