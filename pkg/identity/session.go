package identity

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"io"

	"golang.org/x/crypto/hkdf"

	"swarmsync/pkg/helper/errors"
)

// SessionKeySize is the length, in bytes, of a derived AEAD key.
const SessionKeySize = 32

// GCMNonceSize is the length, in bytes, of an AES-GCM nonce.
const GCMNonceSize = 12

// GCMTagSize is the length, in bytes, of an AES-GCM authentication tag.
const GCMTagSize = 16

// EphemeralKeyPair is a per-session ECDH key pair on P-256.
type EphemeralKeyPair struct {
	Private *ecdh.PrivateKey
	Public  *ecdh.PublicKey
}

// NewEphemeral generates a fresh ECDH key pair for one session.
func NewEphemeral() (*EphemeralKeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate ephemeral key pair")
	}
	return &EphemeralKeyPair{Private: priv, Public: priv.PublicKey()}, nil
}

// DeriveSessionKey performs ECDH between localPriv and remotePub, then runs
// the raw shared secret through HKDF-SHA256 to produce a 32-byte symmetric
// key. Both public keys are mixed into the HKDF info in a deterministic
// (lexicographically sorted) order so that both sides of the handshake
// derive an identical key regardless of which side is the initiator.
func DeriveSessionKey(localPriv *ecdh.PrivateKey, remotePub *ecdh.PublicKey) ([]byte, error) {
	shared, err := localPriv.ECDH(remotePub)
	if err != nil {
		return nil, errors.Wrap(err, "ECDH key agreement failed")
	}

	localPub := localPriv.PublicKey().Bytes()
	remoteRaw := remotePub.Bytes()

	var first, second []byte
	if bytes.Compare(localPub, remoteRaw) <= 0 {
		first, second = localPub, remoteRaw
	} else {
		first, second = remoteRaw, localPub
	}

	info := make([]byte, 0, len(first)+len(second))
	info = append(info, first...)
	info = append(info, second...)

	kdf := hkdf.New(sha256New, shared, nil, info)
	key := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errors.Wrap(err, "HKDF session key derivation failed")
	}
	return key, nil
}

// AEADSeal encrypts plaintext under key with a fresh random nonce, returning
// nonce || ciphertext || tag.
func AEADSeal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, GCMNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(err, "failed to generate AEAD nonce")
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// AEADOpen decrypts a record of the form nonce || ciphertext || tag.
// Any tag mismatch or truncation is reported as ErrDecryptionFailed.
func AEADOpen(key, record []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(record) < GCMNonceSize+GCMTagSize {
		return nil, errors.DecryptionFailedf("record too short: %d bytes", len(record))
	}

	nonce, ciphertext := record[:GCMNonceSize], record[GCMNonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.DecryptionFailedf("AEAD tag verification failed")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SessionKeySize {
		return nil, errors.InvalidInputf("session key must be %d bytes, got %d", SessionKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create AES cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCM mode")
	}
	return gcm, nil
}
