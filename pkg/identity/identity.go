// Package identity implements the long-lived signing identity and the
// ephemeral ECDH / AEAD primitives that back every authenticated channel
// between trusted peers.
package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"os"
	"path/filepath"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/helper/log"
)

const (
	signingKeyBlockType = "SWARM SIGNING PRIVATE KEY"
	identityFilePerm    = 0o600
)

// Keys holds the long-lived Ed25519 signing identity for this installation.
type Keys struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// LoadOrGenerate loads a persisted signing key pair from privPath, or
// generates and persists a fresh one if none exists yet.
func LoadOrGenerate(privPath string, logger log.Logger) (*Keys, error) {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}

	if data, err := os.ReadFile(privPath); err == nil {
		priv, perr := decodePrivateKey(data)
		if perr != nil {
			return nil, errors.Wrap(perr, "failed to decode identity key at %s", privPath)
		}
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return nil, errors.Internalf("identity key at %s has unexpected public key type", privPath)
		}
		return &Keys{PublicKey: pub, PrivateKey: priv}, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to read identity key at %s", privPath)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate identity key pair")
	}

	if err := persistPrivateKey(privPath, priv); err != nil {
		return nil, err
	}

	logger.WithField("fingerprint", ShortFingerprint(pub)).Info("generated new long-lived peer identity")
	return &Keys{PublicKey: pub, PrivateKey: priv}, nil
}

func persistPrivateKey(path string, priv ed25519.PrivateKey) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "failed to create identity directory")
		}
	}

	block := &pem.Block{Type: signingKeyBlockType, Bytes: priv}
	var buf bytes.Buffer
	if err := pem.Encode(&buf, block); err != nil {
		return errors.Wrap(err, "failed to encode identity key")
	}

	if err := os.WriteFile(path, buf.Bytes(), identityFilePerm); err != nil {
		return errors.Wrap(err, "failed to persist identity key to %s", path)
	}
	return nil
}

func decodePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != signingKeyBlockType {
		return nil, errors.InvalidInputf("malformed identity key file")
	}
	if len(block.Bytes) != ed25519.PrivateKeySize {
		return nil, errors.InvalidInputf("identity key has unexpected length %d", len(block.Bytes))
	}
	return ed25519.PrivateKey(block.Bytes), nil
}

// Sign signs msg with the long-lived identity key.
func (k *Keys) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}

// Verify checks a signature against a raw public key. It never panics: a
// malformed public key or signature simply yields false.
func Verify(pub ed25519.PublicKey, msg, signature []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	defer func() { recover() }() //nolint:errcheck // ed25519.Verify panics on bad key length only; length is checked above
	return ed25519.Verify(pub, msg, signature)
}

// Fingerprint returns the full hex-encoded fingerprint of a public key.
func Fingerprint(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}

// ShortFingerprint returns the first 8 bytes of pub, colon-separated hex,
// e.g. "AB:CD:EF:01:23:45:67:89".
func ShortFingerprint(pub ed25519.PublicKey) string {
	n := len(pub)
	if n > 8 {
		n = 8
	}
	buf := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, []byte(hex.EncodeToString(pub[i:i+1]))...)
	}
	return bytesToUpper(buf)
}

func bytesToUpper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'f' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
