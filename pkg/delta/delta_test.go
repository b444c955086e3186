package delta

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmsync/pkg/wire"
)

func writeTempFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func randomBytes(n int, seed byte) []byte {
	b := make([]byte, n)
	x := seed
	for i := range b {
		x = x*31 + 7
		b[i] = x
	}
	return b
}

func TestDeltaRoundTrip_SmallModification(t *testing.T) {
	dir := t.TempDir()

	base := randomBytes(3*BlockSize+100, 1)
	target := make([]byte, len(base))
	copy(target, base)
	// Mutate a small region inside the second block.
	copy(target[BlockSize+10:BlockSize+20], []byte("XXXXXXXXXX"))

	basePath := writeTempFile(t, dir, "base.bin", base)
	targetPath := writeTempFile(t, dir, "target.bin", target)

	sigs, err := ComputeSignatures(basePath)
	require.NoError(t, err)
	require.Len(t, sigs, 4)

	instructions, err := ComputeDelta(targetPath, sigs)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "reconstructed.bin")
	require.NoError(t, ApplyDelta(basePath, outPath, instructions))

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(target, got))
}

func TestDeltaIdentity_UnchangedFileIsAllCopies(t *testing.T) {
	dir := t.TempDir()

	content := randomBytes(2*BlockSize+500, 7)
	path := writeTempFile(t, dir, "f.bin", content)

	sigs, err := ComputeSignatures(path)
	require.NoError(t, err)

	instructions, err := ComputeDelta(path, sigs)
	require.NoError(t, err)

	for _, ins := range instructions {
		assert.Equal(t, wire.DeltaCopy, ins.Kind)
	}

	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, ApplyDelta(path, outPath, instructions))
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))
}

func TestDeltaHandlesAppendedData(t *testing.T) {
	dir := t.TempDir()

	base := randomBytes(2*BlockSize, 3)
	target := append(append([]byte(nil), base...), randomBytes(1000, 9)...)

	basePath := writeTempFile(t, dir, "base.bin", base)
	targetPath := writeTempFile(t, dir, "target.bin", target)

	sigs, err := ComputeSignatures(basePath)
	require.NoError(t, err)

	instructions, err := ComputeDelta(targetPath, sigs)
	require.NoError(t, err)

	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, ApplyDelta(basePath, outPath, instructions))
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(target, got))
}

func TestDeltaEmptyFile(t *testing.T) {
	dir := t.TempDir()

	basePath := writeTempFile(t, dir, "base.bin", nil)
	targetPath := writeTempFile(t, dir, "target.bin", nil)

	sigs, err := ComputeSignatures(basePath)
	require.NoError(t, err)
	assert.Empty(t, sigs)

	instructions, err := ComputeDelta(targetPath, sigs)
	require.NoError(t, err)
	assert.Empty(t, instructions)

	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, ApplyDelta(basePath, outPath, instructions))
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeltaCompactForSmallLocalizedChange(t *testing.T) {
	dir := t.TempDir()

	const size = 10 * 1024 * 1024
	base := randomBytes(size, 5)
	target := make([]byte, size)
	copy(target, base)
	copy(target[size/2:size/2+64], bytes.Repeat([]byte{0xFF}, 64))

	basePath := writeTempFile(t, dir, "base.bin", base)
	targetPath := writeTempFile(t, dir, "target.bin", target)

	sigs, err := ComputeSignatures(basePath)
	require.NoError(t, err)

	instructions, err := ComputeDelta(targetPath, sigs)
	require.NoError(t, err)

	record := wire.EncodeDeltaData("big.bin", instructions)
	assert.Less(t, len(record), 300*1024)

	outPath := filepath.Join(dir, "out.bin")
	require.NoError(t, ApplyDelta(basePath, outPath, instructions))
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(target, got))
}

func TestFindStrongMatch_TieBreaksOnLowestIndex(t *testing.T) {
	chunk := randomBytes(BlockSize, 11)
	sig := signBlock(0, chunk)
	dup := sig
	dup.Index = 5

	buckets := buildWeakBucket([]wire.BlockSignature{dup, sig})
	match, ok := findStrongMatch(chunk, buckets)
	require.True(t, ok)
	assert.Equal(t, uint32(0), match.Index)
}
