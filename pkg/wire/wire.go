// Package wire implements the discriminated sync-message union and its
// binary encoding inside the encrypted stream. String and byte fields use
// a u32_be length prefix throughout; both ends of a channel agree on this
// framing, so no interop shim is needed.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"swarmsync/pkg/helper/errors"
)

// ProtocolHeader identifies the sync message protocol on the wire.
const ProtocolHeader = "SWARM_SYNC:1.0"

// MessageType discriminates the sync message union.
type MessageType byte

const (
	MessageManifest          MessageType = 0x01
	MessageFileChanged       MessageType = 0x02
	MessageFileDeleted       MessageType = 0x03
	MessageRequestFile       MessageType = 0x04
	MessageDirCreated        MessageType = 0x06
	MessageDirDeleted        MessageType = 0x07
	MessageFileRenamed       MessageType = 0x08
	MessageRequestSignatures MessageType = 0x10
	MessageBlockSignatures   MessageType = 0x11
	MessageDeltaData         MessageType = 0x12
)

func (t MessageType) String() string {
	switch t {
	case MessageManifest:
		return "Manifest"
	case MessageFileChanged:
		return "FileChanged"
	case MessageFileDeleted:
		return "FileDeleted"
	case MessageRequestFile:
		return "RequestFile"
	case MessageDirCreated:
		return "DirCreated"
	case MessageDirDeleted:
		return "DirDeleted"
	case MessageFileRenamed:
		return "FileRenamed"
	case MessageRequestSignatures:
		return "RequestSignatures"
	case MessageBlockSignatures:
		return "BlockSignatures"
	case MessageDeltaData:
		return "DeltaData"
	default:
		return "Unknown"
	}
}

// writer accumulates a message body in the wire encoding.
type writer struct {
	buf bytes.Buffer
}

func newWriter() *writer { return &writer{} }

func (w *writer) string(s string) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(s)))
	w.buf.Write(length[:])
	w.buf.WriteString(s)
}

func (w *writer) bytes(b []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(b)))
	w.buf.Write(length[:])
	w.buf.Write(b)
}

func (w *writer) u8(v byte) { w.buf.WriteByte(v) }

func (w *writer) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) i64(v int64) { w.u64(uint64(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) finish(msgType MessageType) []byte {
	out := newWriter()
	out.string(ProtocolHeader)
	out.u8(byte(msgType))
	out.buf.Write(w.buf.Bytes())
	return out.buf.Bytes()
}

// reader consumes a message body in the wire encoding.
type reader struct {
	r io.Reader
}

func newReader(data []byte) *reader { return &reader{r: bytes.NewReader(data)} }

func (r *reader) string() (string, error) {
	length, err := r.u32()
	if err != nil {
		return "", err
	}
	if length > 64*1024*1024 {
		return "", errors.ProtocolViolationf("string field too long: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", errors.ProtocolViolationf("truncated string field: %v", err)
	}
	return string(buf), nil
}

func (r *reader) bytesField() ([]byte, error) {
	length, err := r.u32()
	if err != nil {
		return nil, err
	}
	if length > 256*1024*1024 {
		return nil, errors.ProtocolViolationf("byte field too long: %d bytes", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.ProtocolViolationf("truncated byte field: %v", err)
	}
	return buf, nil
}

func (r *reader) u8() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.ProtocolViolationf("truncated u8 field: %v", err)
	}
	return b[0], nil
}

func (r *reader) u32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.ProtocolViolationf("truncated u32 field: %v", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *reader) u64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, errors.ProtocolViolationf("truncated u64 field: %v", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *reader) i64() (int64, error) {
	v, err := r.u64()
	return int64(v), err
}

func (r *reader) boolField() (bool, error) {
	v, err := r.u8()
	return v != 0, err
}

// DecodeHeader reads the protocol header and message type from a raw
// decrypted record, returning the remaining body bytes for
// type-specific decoding.
func DecodeHeader(record []byte) (MessageType, []byte, error) {
	rd := newReader(record)
	header, err := rd.string()
	if err != nil {
		return 0, nil, err
	}
	if header != ProtocolHeader {
		return 0, nil, errors.ProtocolViolationf("unexpected protocol header %q", header)
	}
	typByte, err := rd.u8()
	if err != nil {
		return 0, nil, err
	}

	// The remaining bytes are whatever is left in the underlying reader.
	rest := new(bytes.Buffer)
	if _, err := io.Copy(rest, rd.r); err != nil {
		return 0, nil, errors.ProtocolViolationf("failed to read message body: %v", err)
	}
	return MessageType(typByte), rest.Bytes(), nil
}
