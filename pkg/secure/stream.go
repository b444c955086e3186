// Package secure implements the framed, AEAD-encrypted record stream that
// carries every byte exchanged between two authenticated peers once a
// session key has been derived.
package secure

import (
	"bufio"
	"encoding/binary"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/identity"
)

// DefaultMaxRecordSize bounds a single AEAD record: 1 MiB of plaintext plus
// 1 KiB of headroom for AEAD overhead and future growth.
const DefaultMaxRecordSize = 1024*1024 + 1024

// Stream wraps an underlying io.ReadWriter with length-prefixed AEAD framing.
// It does not own the underlying connection: Stream has no Close method
// and never closes rw.
type Stream struct {
	rw            io.ReadWriter
	key           []byte
	maxRecordSize int

	reader *bufio.Reader

	mu      sync.Mutex // serializes writes so one logical message is never interleaved
	pending []byte     // surplus plaintext bytes from the last record, returned on subsequent Reads
}

// New wraps rw with AEAD framing under key, using the default max record size.
func New(rw io.ReadWriter, key []byte) *Stream {
	return NewWithLimit(rw, key, DefaultMaxRecordSize)
}

// NewWithLimit wraps rw with AEAD framing under key, rejecting any record
// whose encoded length exceeds maxRecordSize.
func NewWithLimit(rw io.ReadWriter, key []byte, maxRecordSize int) *Stream {
	return &Stream{
		rw:            rw,
		key:           key,
		maxRecordSize: maxRecordSize,
		reader:        bufio.NewReaderSize(rw, 64*1024),
	}
}

// WriteMessage seals plaintext and writes u32_be(len) || record atomically
// with respect to other WriteMessage calls on the same Stream.
func (s *Stream) WriteMessage(plaintext []byte) error {
	record, err := identity.AEADSeal(s.key, plaintext)
	if err != nil {
		return errors.Wrap(err, "failed to seal record")
	}
	if len(record) > s.maxRecordSize {
		return errors.InvalidFramef("sealed record of %d bytes exceeds limit of %d", len(record), s.maxRecordSize)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(record)))
	buf.Write(lenPrefix[:])
	buf.Write(record)

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.rw.Write(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// readRecord reads one complete length-prefixed AEAD record and decrypts it.
func (s *Stream) readRecord() ([]byte, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(s.reader, lenPrefix[:]); err != nil {
		return nil, err
	}
	recordLen := binary.BigEndian.Uint32(lenPrefix[:])
	if int(recordLen) > s.maxRecordSize || recordLen == 0 {
		return nil, errors.InvalidFramef("record length %d out of bounds (max %d)", recordLen, s.maxRecordSize)
	}

	record := make([]byte, recordLen)
	if _, err := io.ReadFull(s.reader, record); err != nil {
		return nil, err
	}

	plaintext, err := identity.AEADOpen(s.key, record)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

// ReadMessage returns exactly one decrypted application-level message: the
// full plaintext of the next record. Use Read for byte-oriented consumers
// that want short-read-preserving semantics instead.
func (s *Stream) ReadMessage() ([]byte, error) {
	if len(s.pending) > 0 {
		msg := s.pending
		s.pending = nil
		return msg, nil
	}
	return s.readRecord()
}

// Read implements io.Reader with short-read-preserving semantics: if the
// caller's buffer is smaller than the next plaintext record, the surplus is
// buffered and returned on subsequent calls, in order.
func (s *Stream) Read(p []byte) (int, error) {
	if len(s.pending) == 0 {
		record, err := s.readRecord()
		if err != nil {
			return 0, err
		}
		s.pending = record
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// Write seals and writes p as a single record. It is equivalent to
// WriteMessage and exists so Stream satisfies io.Writer.
func (s *Stream) Write(p []byte) (int, error) {
	if err := s.WriteMessage(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
