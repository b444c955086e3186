package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestRoundTrip(t *testing.T) {
	files := []FileDescriptor{
		{RelPath: "notes.txt", ContentHash: "abc123", Size: 6, ModifiedUnix: 1700000000000, Origin: "peerA"},
		{RelPath: "dir/inner.bin", ContentHash: "def456", Size: 1024, IsDir: false},
	}
	record := EncodeManifest(files)

	typ, body, err := DecodeHeader(record)
	require.NoError(t, err)
	assert.Equal(t, MessageManifest, typ)

	decoded, err := DecodeManifest(body)
	require.NoError(t, err)
	assert.Equal(t, files, decoded)
}

func TestFileChangedRoundTrip(t *testing.T) {
	header := FileDescriptor{RelPath: "a/b.txt", ContentHash: "h", Size: 5}
	record := EncodeFileChanged(header, []byte("hello"))

	typ, body, err := DecodeHeader(record)
	require.NoError(t, err)
	assert.Equal(t, MessageFileChanged, typ)

	gotHeader, gotData, err := DecodeFileChanged(body)
	require.NoError(t, err)
	assert.Equal(t, header, gotHeader)
	assert.Equal(t, []byte("hello"), gotData)
}

func TestFileDeletedVsDirDeleted(t *testing.T) {
	fileRecord := EncodeFileDeleted("x.txt", false)
	typ, body, err := DecodeHeader(fileRecord)
	require.NoError(t, err)
	assert.Equal(t, MessageFileDeleted, typ)
	path, isDir, err := DecodeFileDeleted(body)
	require.NoError(t, err)
	assert.Equal(t, "x.txt", path)
	assert.False(t, isDir)

	dirRecord := EncodeFileDeleted("subdir", true)
	typ, body, err = DecodeHeader(dirRecord)
	require.NoError(t, err)
	assert.Equal(t, MessageDirDeleted, typ)
	path, isDir, err = DecodeFileDeleted(body)
	require.NoError(t, err)
	assert.Equal(t, "subdir", path)
	assert.True(t, isDir)
}

func TestFileRenamedRoundTrip(t *testing.T) {
	record := EncodeFileRenamed("old.txt", "new.txt")
	typ, body, err := DecodeHeader(record)
	require.NoError(t, err)
	assert.Equal(t, MessageFileRenamed, typ)

	oldPath, newPath, err := DecodeFileRenamed(body)
	require.NoError(t, err)
	assert.Equal(t, "old.txt", oldPath)
	assert.Equal(t, "new.txt", newPath)
}

func TestBlockSignaturesRoundTrip(t *testing.T) {
	sigs := []BlockSignature{
		{Index: 0, Weak: 111, Strong: "aaa"},
		{Index: 1, Weak: 222, Strong: "bbb"},
	}
	record := EncodeBlockSignatures("basehash", sigs)
	typ, body, err := DecodeHeader(record)
	require.NoError(t, err)
	assert.Equal(t, MessageBlockSignatures, typ)

	baseHash, decoded, err := DecodeBlockSignatures(body)
	require.NoError(t, err)
	assert.Equal(t, "basehash", baseHash)
	assert.Equal(t, sigs, decoded)
}

func TestDeltaDataRoundTrip(t *testing.T) {
	instructions := []DeltaInstruction{
		{Kind: DeltaCopy, SourceBlockIndex: 0, Length: 65536},
		{Kind: DeltaInsert, Bytes: []byte("patched bytes"), Length: 13},
		{Kind: DeltaCopy, SourceBlockIndex: 2, Length: 100},
	}
	record := EncodeDeltaData("big.bin", instructions)
	typ, body, err := DecodeHeader(record)
	require.NoError(t, err)
	assert.Equal(t, MessageDeltaData, typ)

	relPath, decoded, err := DecodeDeltaData(body)
	require.NoError(t, err)
	assert.Equal(t, "big.bin", relPath)
	assert.Equal(t, instructions, decoded)
}

func TestDecodeHeader_RejectsWrongProtocol(t *testing.T) {
	w := newWriter()
	w.string("NOT_SWARM")
	w.u8(byte(MessageManifest))
	_, _, err := DecodeHeader(w.buf.Bytes())
	assert.Error(t, err)
}
