package discovery

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/identity"
)

// protocolTag identifies a presence datagram as belonging to this protocol.
const protocolTag = "SWARM"

// presenceWire is the JSON-on-the-wire shape of a signed presence
// announcement. Signature covers every other field, canonically
// concatenated in canonicalForm.
type presenceWire struct {
	Protocol  string `json:"protocol"`
	DeviceID  string `json:"device_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Port      int    `json:"port"`
	PublicKey string `json:"public_key"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Presence is a decoded, verified peer announcement.
type Presence struct {
	DeviceID  string
	Name      string
	Address   string
	Port      int
	PublicKey ed25519.PublicKey
	Timestamp time.Time
}

func canonicalForm(deviceID, name, address string, port int, publicKeyHex string, timestamp int64) []byte {
	parts := []string{
		protocolTag,
		deviceID,
		name,
		address,
		strconv.Itoa(port),
		publicKeyHex,
		strconv.FormatInt(timestamp, 10),
	}
	return []byte(strings.Join(parts, "|"))
}

// EncodePresence builds and signs a presence datagram announcing this
// device on address:port.
func EncodePresence(keys *identity.Keys, deviceID, name, address string, port int, now time.Time) ([]byte, error) {
	pubHex := hex.EncodeToString(keys.PublicKey)
	ts := now.UnixMilli()
	sig := keys.Sign(canonicalForm(deviceID, name, address, port, pubHex, ts))

	msg := presenceWire{
		Protocol:  protocolTag,
		DeviceID:  deviceID,
		Name:      name,
		Address:   address,
		Port:      port,
		PublicKey: pubHex,
		Timestamp: ts,
		Signature: hex.EncodeToString(sig),
	}
	return json.Marshal(msg)
}

// DecodePresence parses and signature-verifies a presence datagram. It
// tries the JSON wire shape first, falling back to the legacy
// pipe-delimited format used by older clients on the same LAN.
func DecodePresence(raw []byte) (Presence, error) {
	if p, err := decodeJSONPresence(raw); err == nil {
		return p, nil
	}
	return decodeLegacyPresence(raw)
}

func decodeJSONPresence(raw []byte) (Presence, error) {
	var msg presenceWire
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Presence{}, errors.Wrap(err, "malformed presence datagram")
	}
	if msg.Protocol != protocolTag {
		return Presence{}, errors.ProtocolViolationf("unexpected presence protocol %q", msg.Protocol)
	}

	pub, err := hex.DecodeString(msg.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return Presence{}, errors.InvalidInputf("malformed presence public key")
	}
	sig, err := hex.DecodeString(msg.Signature)
	if err != nil {
		return Presence{}, errors.InvalidInputf("malformed presence signature")
	}

	payload := canonicalForm(msg.DeviceID, msg.Name, msg.Address, msg.Port, msg.PublicKey, msg.Timestamp)
	if !identity.Verify(pub, payload, sig) {
		return Presence{}, errors.HandshakeFailedf("presence signature verification failed for device %s", msg.DeviceID)
	}

	return Presence{
		DeviceID:  msg.DeviceID,
		Name:      msg.Name,
		Address:   msg.Address,
		Port:      msg.Port,
		PublicKey: pub,
		Timestamp: time.UnixMilli(msg.Timestamp),
	}, nil
}

// decodeLegacyPresence parses the unsigned pipe-delimited format:
// "SWARM|device_id|name|address|port". It carries no signature, so
// callers must treat peers discovered this way as unauthenticated until
// a connection pool handshake independently verifies their identity key.
func decodeLegacyPresence(raw []byte) (Presence, error) {
	fields := strings.Split(string(raw), "|")
	if len(fields) != 5 || fields[0] != protocolTag {
		return Presence{}, errors.ProtocolViolationf("unrecognized presence datagram")
	}
	port, err := strconv.Atoi(fields[4])
	if err != nil {
		return Presence{}, errors.InvalidInputf("malformed legacy presence port")
	}
	return Presence{
		DeviceID:  fields[1],
		Name:      fields[2],
		Address:   fields[3],
		Port:      port,
		Timestamp: time.Now(),
	}, nil
}
