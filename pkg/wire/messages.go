package wire

import (
	"time"

	"swarmsync/pkg/helper/errors"
)

// FileDescriptor is a tracked file's header as carried on the wire inside
// Manifest and FileChanged messages.
type FileDescriptor struct {
	RelPath      string
	ContentHash  string
	Size         int64
	ModifiedUnix int64 // sender's local epoch, 100ns-precision intent collapsed to unix nanos on the wire
	IsDir        bool
	Origin       string
}

func (w *writer) fileDescriptor(f FileDescriptor) {
	w.string(f.RelPath)
	w.string(f.ContentHash)
	w.i64(f.Size)
	w.i64(f.ModifiedUnix)
	w.bool(f.IsDir)
	w.string(f.Origin)
}

func (r *reader) fileDescriptor() (FileDescriptor, error) {
	var f FileDescriptor
	var err error
	if f.RelPath, err = r.string(); err != nil {
		return f, err
	}
	if f.ContentHash, err = r.string(); err != nil {
		return f, err
	}
	if f.Size, err = r.i64(); err != nil {
		return f, err
	}
	if f.ModifiedUnix, err = r.i64(); err != nil {
		return f, err
	}
	if f.IsDir, err = r.boolField(); err != nil {
		return f, err
	}
	if f.Origin, err = r.string(); err != nil {
		return f, err
	}
	return f, nil
}

// ModTime returns ModifiedUnix as a time.Time (nanoseconds since the Unix epoch).
func (f FileDescriptor) ModTime() time.Time { return time.Unix(0, f.ModifiedUnix) }

// BlockSignature is one fixed-size block's weak+strong checksum pair.
type BlockSignature struct {
	Index  uint32
	Weak   uint32 // Adler-32
	Strong string // SHA-256 hex
}

// DeltaInstructionKind discriminates Copy vs Insert.
type DeltaInstructionKind byte

const (
	DeltaCopy   DeltaInstructionKind = 0
	DeltaInsert DeltaInstructionKind = 1
)

// DeltaInstruction is either Copy{SourceBlockIndex, Length} or
// Insert{Bytes, Length}.
type DeltaInstruction struct {
	Kind             DeltaInstructionKind
	SourceBlockIndex uint32
	Length           uint32
	Bytes            []byte
}

// --- Manifest (0x01) ---

// EncodeManifest encodes the full list of tracked files at a host.
func EncodeManifest(files []FileDescriptor) []byte {
	w := newWriter()
	w.u32(uint32(len(files)))
	for _, f := range files {
		w.fileDescriptor(f)
	}
	return w.finish(MessageManifest)
}

// DecodeManifest decodes a Manifest message body.
func DecodeManifest(body []byte) ([]FileDescriptor, error) {
	r := newReader(body)
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	files := make([]FileDescriptor, 0, count)
	for i := uint32(0); i < count; i++ {
		f, err := r.fileDescriptor()
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

// --- FileChanged (0x02) ---

// EncodeFileChanged encodes a TrackedFile header followed by raw file bytes.
func EncodeFileChanged(header FileDescriptor, data []byte) []byte {
	w := newWriter()
	w.fileDescriptor(header)
	w.bytes(data)
	return w.finish(MessageFileChanged)
}

// DecodeFileChanged decodes a FileChanged message body.
func DecodeFileChanged(body []byte) (FileDescriptor, []byte, error) {
	r := newReader(body)
	header, err := r.fileDescriptor()
	if err != nil {
		return header, nil, err
	}
	data, err := r.bytesField()
	return header, data, err
}

// --- FileDeleted (0x03) / DirDeleted (0x07) ---

// EncodeFileDeleted encodes a deletion of relPath; isDir selects message type.
func EncodeFileDeleted(relPath string, isDir bool) []byte {
	w := newWriter()
	w.string(relPath)
	w.bool(isDir)
	if isDir {
		return w.finish(MessageDirDeleted)
	}
	return w.finish(MessageFileDeleted)
}

// DecodeFileDeleted decodes a FileDeleted or DirDeleted message body.
func DecodeFileDeleted(body []byte) (relPath string, isDir bool, err error) {
	r := newReader(body)
	if relPath, err = r.string(); err != nil {
		return "", false, err
	}
	isDir, err = r.boolField()
	return relPath, isDir, err
}

// --- RequestFile (0x04) ---

// EncodeRequestFile requests the current content of relPath.
func EncodeRequestFile(relPath string) []byte {
	w := newWriter()
	w.string(relPath)
	return w.finish(MessageRequestFile)
}

// DecodeRequestFile decodes a RequestFile message body.
func DecodeRequestFile(body []byte) (string, error) {
	return newReader(body).string()
}

// --- DirCreated (0x06) ---

// EncodeDirCreated encodes creation of a directory at relPath.
func EncodeDirCreated(relPath string) []byte {
	w := newWriter()
	w.string(relPath)
	return w.finish(MessageDirCreated)
}

// DecodeDirCreated decodes a DirCreated message body.
func DecodeDirCreated(body []byte) (string, error) {
	return newReader(body).string()
}

// --- FileRenamed (0x08) ---

// EncodeFileRenamed encodes a rename from oldPath to newPath.
func EncodeFileRenamed(oldPath, newPath string) []byte {
	w := newWriter()
	w.string(oldPath)
	w.string(newPath)
	return w.finish(MessageFileRenamed)
}

// DecodeFileRenamed decodes a FileRenamed message body.
func DecodeFileRenamed(body []byte) (oldPath, newPath string, err error) {
	r := newReader(body)
	if oldPath, err = r.string(); err != nil {
		return "", "", err
	}
	newPath, err = r.string()
	return oldPath, newPath, err
}

// --- RequestSignatures (0x10) ---

// EncodeRequestSignatures requests block signatures for relPath.
func EncodeRequestSignatures(relPath string) []byte {
	w := newWriter()
	w.string(relPath)
	return w.finish(MessageRequestSignatures)
}

// DecodeRequestSignatures decodes a RequestSignatures message body.
func DecodeRequestSignatures(body []byte) (string, error) {
	return newReader(body).string()
}

// --- BlockSignatures (0x11) ---

// EncodeBlockSignatures encodes the base file's hash and its block signatures.
func EncodeBlockSignatures(baseHash string, sigs []BlockSignature) []byte {
	w := newWriter()
	w.string(baseHash)
	w.u32(uint32(len(sigs)))
	for _, s := range sigs {
		w.u32(s.Index)
		w.u32(s.Weak)
		w.string(s.Strong)
	}
	return w.finish(MessageBlockSignatures)
}

// DecodeBlockSignatures decodes a BlockSignatures message body.
func DecodeBlockSignatures(body []byte) (baseHash string, sigs []BlockSignature, err error) {
	r := newReader(body)
	if baseHash, err = r.string(); err != nil {
		return "", nil, err
	}
	count, err := r.u32()
	if err != nil {
		return "", nil, err
	}
	sigs = make([]BlockSignature, 0, count)
	for i := uint32(0); i < count; i++ {
		var s BlockSignature
		if s.Index, err = r.u32(); err != nil {
			return "", nil, err
		}
		if s.Weak, err = r.u32(); err != nil {
			return "", nil, err
		}
		if s.Strong, err = r.string(); err != nil {
			return "", nil, err
		}
		sigs = append(sigs, s)
	}
	return baseHash, sigs, nil
}

// --- DeltaData (0x12) ---

// EncodeDeltaData encodes the ordered delta instructions to reconstruct relPath.
func EncodeDeltaData(relPath string, instructions []DeltaInstruction) []byte {
	w := newWriter()
	w.string(relPath)
	w.u32(uint32(len(instructions)))
	for _, ins := range instructions {
		w.u8(byte(ins.Kind))
		switch ins.Kind {
		case DeltaCopy:
			w.u32(ins.SourceBlockIndex)
			w.u32(ins.Length)
		case DeltaInsert:
			w.bytes(ins.Bytes)
		}
	}
	return w.finish(MessageDeltaData)
}

// DecodeDeltaData decodes a DeltaData message body.
func DecodeDeltaData(body []byte) (relPath string, instructions []DeltaInstruction, err error) {
	r := newReader(body)
	if relPath, err = r.string(); err != nil {
		return "", nil, err
	}
	count, err := r.u32()
	if err != nil {
		return "", nil, err
	}
	instructions = make([]DeltaInstruction, 0, count)
	for i := uint32(0); i < count; i++ {
		kindByte, err := r.u8()
		if err != nil {
			return "", nil, err
		}
		ins := DeltaInstruction{Kind: DeltaInstructionKind(kindByte)}
		switch ins.Kind {
		case DeltaCopy:
			if ins.SourceBlockIndex, err = r.u32(); err != nil {
				return "", nil, err
			}
			if ins.Length, err = r.u32(); err != nil {
				return "", nil, err
			}
		case DeltaInsert:
			if ins.Bytes, err = r.bytesField(); err != nil {
				return "", nil, err
			}
			ins.Length = uint32(len(ins.Bytes))
		default:
			return "", nil, errors.ProtocolViolationf("unknown delta instruction kind %d", kindByte)
		}
		instructions = append(instructions, ins)
	}
	return relPath, instructions, nil
}
