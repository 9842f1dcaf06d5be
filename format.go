package transcodine

import "encoding/binary"

// On-disk framing shared by the EDB64 database format and the ARC64 bin
// format. Magic strings are written exactly as given, without a NUL
// terminator. Length fields are little-endian 64-bit unsigned integers.
const (
	// MagicSize is the length of every magic string in both formats.
	MagicSize = 8

	// IVSize is the AES-CTR initialisation vector size in bytes.
	IVSize = AESBlockSize

	// KeySize is the size of every storage key: the KEK, the derived
	// database key, and per-bin AES keys. The AES-128 schedule consumes
	// the first AESKeySize bytes; the remainder is reserved.
	KeySize = 32

	// BinIDSize is the length of a bin's base62 identifier.
	BinIDSize = 16

	// ReadChunk bounds the transfer size of the chunked body copies and of
	// the chunks handed to CatFile visitors. Database entry removal copies
	// each value whole rather than in ReadChunk pieces.
	ReadChunk = 512
)

// EDB64 database format.
const (
	// DBMagic identifies an encrypted database file.
	DBMagic = "EDBASE64"

	// DBMagicEntry precedes every key-value entry in the body.
	DBMagicEntry = "DBASEFLE"

	// DBMagicEnd terminates the body. It is always the last eight
	// plaintext bytes of the stream.
	DBMagicEnd = "DBASEEND"

	// dbHeaderSize is the unencrypted global header: magic plus IV.
	dbHeaderSize = MagicSize + IVSize
)

// ARC64 bin format.
const (
	// BinMagic identifies an encrypted bin archive.
	BinMagic = "ARCHV-64"

	// BinMagicFile precedes every stored file in the body.
	BinMagicFile = "ARCHVFLE"

	// BinMagicEnd terminates the body.
	BinMagicEnd = "ARCHVEND"

	// binHeaderSize is the unencrypted global header: magic, bin id, IV.
	binHeaderSize = MagicSize + BinIDSize + IVSize
)

// MagicUnlocked is the unlock sentinel: the first eight plaintext bytes of
// every encrypted region. A correct decrypt produces exactly this string;
// anything else means the key is wrong.
const MagicUnlocked = "UNLOCKED"

// entryHeaderSize is a body entry header: magic plus two length fields.
const entryHeaderSize = MagicSize + 16

// maxKeyLen bounds database key and bin path lengths. A length field above
// this is treated as corruption rather than an allocation request.
const maxKeyLen = 1 << 24

// entryHeader is the decoded header of a database entry or a bin file
// entry. KeyLen holds the key length (database) or the path length
// including its NUL terminator (bin); DataLen holds the value or file data
// length.
type entryHeader struct {
	KeyLen  uint64
	DataLen uint64
}

// encodeEntryHeader assembles an entry header with the given magic into a
// fixed buffer.
func encodeEntryHeader(magic string, h entryHeader) *Buffer {
	buf := NewFixedBuffer(entryHeaderSize)
	buf.Append([]byte(magic))
	var lens [16]byte
	binary.LittleEndian.PutUint64(lens[:8], h.KeyLen)
	binary.LittleEndian.PutUint64(lens[8:], h.DataLen)
	buf.Append(lens[:])
	return buf
}

// putUint64LE encodes v into p as a little-endian 64-bit length field.
func putUint64LE(p []byte, v uint64) {
	binary.LittleEndian.PutUint64(p, v)
}

// decodeEntryLengths decodes the two length fields that follow an entry
// magic.
func decodeEntryLengths(p []byte) entryHeader {
	if len(p) < 16 {
		panic("transcodine: entry length fields are 16 bytes")
	}
	return entryHeader{
		KeyLen:  binary.LittleEndian.Uint64(p[:8]),
		DataLen: binary.LittleEndian.Uint64(p[8:16]),
	}
}
