package pool

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/binary"
	"io"
	"net"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/identity"
)

// HandshakeBanner is sent first by both sides so a misconfigured peer
// speaking an unrelated protocol is rejected immediately instead of
// blocking on a read that will never complete correctly.
const HandshakeBanner = "SECURE_HANDSHAKE:1.0"

const (
	statusOK     byte = 0x01
	statusFailed byte = 0x00
)

// VerifyPeer is supplied by the caller to decide whether a presented
// long-lived identity key is trusted. Implementations typically consult
// a discovery.Table or a configured trusted-peer map.
type VerifyPeer func(pub ed25519.PublicKey) error

// hello is the length-prefixed handshake payload each side sends: its
// ephemeral ECDH public key, its long-lived identity public key, and a
// signature over (banner || ephemeral pubkey) proving possession of the
// identity private key.
type hello struct {
	ephemeralPub []byte // 65 bytes, uncompressed P-256 point
	identityPub  ed25519.PublicKey
	signature    []byte
}

func writeHello(w io.Writer, h hello) error {
	if _, err := io.WriteString(w, HandshakeBanner); err != nil {
		return err
	}
	var lens [3]uint32
	lens[0] = uint32(len(h.ephemeralPub))
	lens[1] = uint32(len(h.identityPub))
	lens[2] = uint32(len(h.signature))
	for _, l := range lens {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], l)
		if _, err := w.Write(b[:]); err != nil {
			return err
		}
	}
	if _, err := w.Write(h.ephemeralPub); err != nil {
		return err
	}
	if _, err := w.Write(h.identityPub); err != nil {
		return err
	}
	if _, err := w.Write(h.signature); err != nil {
		return err
	}
	return nil
}

func readHello(r io.Reader) (hello, error) {
	bannerBuf := make([]byte, len(HandshakeBanner))
	if _, err := io.ReadFull(r, bannerBuf); err != nil {
		return hello{}, errors.Wrap(err, "failed to read handshake banner")
	}
	if string(bannerBuf) != HandshakeBanner {
		return hello{}, errors.HandshakeFailedf("unexpected handshake banner %q", string(bannerBuf))
	}

	var lens [3]uint32
	for i := range lens {
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return hello{}, errors.Wrap(err, "failed to read handshake field length")
		}
		lens[i] = binary.BigEndian.Uint32(b[:])
	}
	for _, l := range lens {
		if l > 1024 {
			return hello{}, errors.HandshakeFailedf("handshake field too large: %d bytes", l)
		}
	}

	ephemeralPub := make([]byte, lens[0])
	if _, err := io.ReadFull(r, ephemeralPub); err != nil {
		return hello{}, errors.Wrap(err, "failed to read ephemeral public key")
	}
	identityPub := make([]byte, lens[1])
	if _, err := io.ReadFull(r, identityPub); err != nil {
		return hello{}, errors.Wrap(err, "failed to read identity public key")
	}
	signature := make([]byte, lens[2])
	if _, err := io.ReadFull(r, signature); err != nil {
		return hello{}, errors.Wrap(err, "failed to read handshake signature")
	}

	return hello{ephemeralPub: ephemeralPub, identityPub: identityPub, signature: signature}, nil
}

// handshakeResult carries what a successful handshake establishes.
type handshakeResult struct {
	SessionKey   []byte
	PeerIdentity ed25519.PublicKey
}

// performHandshake runs the mutual, order-independent handshake over
// conn and returns the derived session key plus the peer's verified
// long-lived identity key. Both sides run this same function: each
// writes its hello before reading the peer's, so the exchange does not
// depend on who dialed and who accepted.
func performHandshake(conn net.Conn, keys *identity.Keys, verify VerifyPeer) (handshakeResult, error) {
	ephemeral, err := identity.NewEphemeral()
	if err != nil {
		return handshakeResult{}, err
	}

	localEphemeralBytes := ephemeral.Public.Bytes()
	signed := append([]byte(HandshakeBanner), localEphemeralBytes...)
	sig := keys.Sign(signed)

	local := hello{
		ephemeralPub: localEphemeralBytes,
		identityPub:  keys.PublicKey,
		signature:    sig,
	}

	if err := writeHello(conn, local); err != nil {
		return handshakeResult{}, errors.Wrap(err, "failed to send handshake hello")
	}

	remote, err := readHello(conn)
	if err != nil {
		_ = writeStatus(conn, statusFailed)
		return handshakeResult{}, err
	}

	remotePayload := append([]byte(HandshakeBanner), remote.ephemeralPub...)
	if !identity.Verify(remote.identityPub, remotePayload, remote.signature) {
		_ = writeStatus(conn, statusFailed)
		return handshakeResult{}, errors.HandshakeFailedf("peer handshake signature verification failed")
	}

	if err := verify(remote.identityPub); err != nil {
		_ = writeStatus(conn, statusFailed)
		return handshakeResult{}, errors.UntrustedPeerf("peer identity rejected: %v", err)
	}

	remoteEphemeral, err := ecdh.P256().NewPublicKey(remote.ephemeralPub)
	if err != nil {
		_ = writeStatus(conn, statusFailed)
		return handshakeResult{}, errors.HandshakeFailedf("malformed peer ephemeral public key: %v", err)
	}

	sessionKey, err := identity.DeriveSessionKey(ephemeral.Private, remoteEphemeral)
	if err != nil {
		_ = writeStatus(conn, statusFailed)
		return handshakeResult{}, err
	}

	if err := writeStatus(conn, statusOK); err != nil {
		return handshakeResult{}, errors.Wrap(err, "failed to send handshake status")
	}
	peerStatus, err := readStatus(conn)
	if err != nil {
		return handshakeResult{}, errors.Wrap(err, "failed to read peer handshake status")
	}
	if peerStatus != statusOK {
		return handshakeResult{}, errors.HandshakeFailedf("peer reported handshake failure")
	}

	return handshakeResult{SessionKey: sessionKey, PeerIdentity: remote.identityPub}, nil
}

func writeStatus(w io.Writer, status byte) error {
	_, err := w.Write([]byte{status})
	return err
}

func readStatus(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}
