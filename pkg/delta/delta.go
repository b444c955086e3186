// Package delta implements the rolling-checksum block-matching engine that
// produces and applies bandwidth-efficient updates for large files.
//
// Blocks are fixed-size, non-overlapping 64 KiB chunks. This is a
// block-aligned scan, not a true sliding window: an insertion that shifts
// block boundaries falls through to Insert instructions rather than being
// recovered as a Copy.
package delta

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"hash/adler32"
	"io"
	"os"

	"swarmsync/pkg/helper/errors"
	"swarmsync/pkg/wire"
)

// BlockSize is the fixed chunk size used for signatures and delta matching.
const BlockSize = 64 * 1024

// MaxPendingInsert bounds the in-memory insert buffer: once pending bytes
// exceed this, the buffer is flushed as one or more Insert instructions.
const MaxPendingInsert = 2 * BlockSize

// ComputeSignatures reads path in BlockSize chunks and returns one
// BlockSignature per chunk, in order.
func ComputeSignatures(path string) ([]wire.BlockSignature, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open %s for signature computation", path)
	}
	defer f.Close()

	return ComputeSignaturesFromReader(f)
}

// ComputeSignaturesFromReader is the reader-based core of ComputeSignatures.
func ComputeSignaturesFromReader(r io.Reader) ([]wire.BlockSignature, error) {
	br := bufio.NewReaderSize(r, BlockSize)
	buf := make([]byte, BlockSize)
	var sigs []wire.BlockSignature

	for index := uint32(0); ; index++ {
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			sigs = append(sigs, signBlock(index, buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read block %d", index)
		}
	}
	return sigs, nil
}

func signBlock(index uint32, chunk []byte) wire.BlockSignature {
	sum := sha256.Sum256(chunk)
	return wire.BlockSignature{
		Index:  index,
		Weak:   adler32.Checksum(chunk),
		Strong: hex.EncodeToString(sum[:]),
	}
}

// weakBucket groups base signatures sharing the same weak checksum, so a
// strong-hash confirmation only needs to run against real candidates.
type weakBucket map[uint32][]wire.BlockSignature

func buildWeakBucket(sigs []wire.BlockSignature) weakBucket {
	b := make(weakBucket, len(sigs))
	for _, s := range sigs {
		b[s.Weak] = append(b[s.Weak], s)
	}
	return b
}

// ComputeDelta computes an ordered list of DeltaInstructions that
// reconstruct the file at newPath given the blocks described by
// baseSignatures.
func ComputeDelta(newPath string, baseSignatures []wire.BlockSignature) ([]wire.DeltaInstruction, error) {
	f, err := os.Open(newPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open %s for delta computation", newPath)
	}
	defer f.Close()

	return ComputeDeltaFromReader(f, baseSignatures)
}

// ComputeDeltaFromReader is the reader-based core of ComputeDelta.
func ComputeDeltaFromReader(r io.Reader, baseSignatures []wire.BlockSignature) ([]wire.DeltaInstruction, error) {
	buckets := buildWeakBucket(baseSignatures)

	br := bufio.NewReaderSize(r, BlockSize)
	buf := make([]byte, BlockSize)

	var instructions []wire.DeltaInstruction
	var pending []byte

	flushPending := func() {
		for len(pending) > 0 {
			n := len(pending)
			if n > BlockSize {
				n = BlockSize
			}
			instructions = append(instructions, wire.DeltaInstruction{
				Kind:   wire.DeltaInsert,
				Bytes:  append([]byte(nil), pending[:n]...),
				Length: uint32(n),
			})
			pending = pending[n:]
		}
	}

	for {
		n, err := io.ReadFull(br, buf)
		if n > 0 {
			chunk := buf[:n]
			if match, ok := findStrongMatch(chunk, buckets); ok {
				flushPending()
				instructions = append(instructions, wire.DeltaInstruction{
					Kind:             wire.DeltaCopy,
					SourceBlockIndex: match.Index,
					Length:           uint32(n),
				})
			} else {
				pending = append(pending, chunk...)
				if len(pending) > MaxPendingInsert {
					flushPending()
				}
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "failed to read new file during delta computation")
		}
	}
	flushPending()

	return instructions, nil
}

// findStrongMatch looks up chunk's weak checksum bucket and, among strong
// matches, returns the candidate with the lowest block index, so the
// result is deterministic when a chunk matches more than one base block.
func findStrongMatch(chunk []byte, buckets weakBucket) (wire.BlockSignature, bool) {
	weak := adler32.Checksum(chunk)
	candidates, ok := buckets[weak]
	if !ok {
		return wire.BlockSignature{}, false
	}

	sum := sha256.Sum256(chunk)
	strong := hex.EncodeToString(sum[:])

	var best wire.BlockSignature
	found := false
	for _, c := range candidates {
		if c.Strong != strong {
			continue
		}
		if !found || c.Index < best.Index {
			best = c
			found = true
		}
	}
	return best, found
}

// ApplyDelta writes targetPath fresh, reconstructing it from basePath plus
// the instructions' inline bytes.
func ApplyDelta(basePath, targetPath string, instructions []wire.DeltaInstruction) error {
	base, err := os.Open(basePath)
	if err != nil {
		return errors.Wrap(err, "failed to open base file %s", basePath)
	}
	defer base.Close()

	out, err := os.Create(targetPath)
	if err != nil {
		return errors.Wrap(err, "failed to create target file %s", targetPath)
	}
	defer out.Close()

	bw := bufio.NewWriter(out)
	for _, ins := range instructions {
		switch ins.Kind {
		case wire.DeltaCopy:
			if _, err := base.Seek(int64(ins.SourceBlockIndex)*BlockSize, io.SeekStart); err != nil {
				return errors.Wrap(err, "failed to seek base file to block %d", ins.SourceBlockIndex)
			}
			if _, err := io.CopyN(bw, base, int64(ins.Length)); err != nil {
				return errors.Wrap(err, "failed to copy %d bytes from base block %d", ins.Length, ins.SourceBlockIndex)
			}
		case wire.DeltaInsert:
			if _, err := bw.Write(ins.Bytes); err != nil {
				return errors.Wrap(err, "failed to write inserted bytes")
			}
		default:
			return errors.ProtocolViolationf("unknown delta instruction kind %d", ins.Kind)
		}
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to flush reconstructed file")
	}
	return nil
}
