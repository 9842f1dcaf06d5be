package transcodine

import "github.com/absfs/absfs"

// CipherStream exposes the encrypted region of an open file as a
// transparent plaintext byte stream. The stream tracks two positions: the
// file offset of the next ciphertext byte, and the stream offset counting
// plaintext bytes produced or consumed since the start of the encrypted
// region. Reads and writes resume the keystream at the correct block and
// intra-block position automatically, so a stream may skip forward without
// touching the file and still decrypt correctly afterwards.
//
// A stream borrows its cipher context and copies its IV. It is not safe
// for concurrent use; at most one read or write may be in flight.
type CipherStream struct {
	f            absfs.File
	cipher       *AESCipher
	iv           [IVSize]byte
	headerOffset int64
	fileOffset   int64
	streamOffset int64
}

// NewCipherStream wraps f with a stream whose encrypted region begins at
// headerOffset. The iv seeds the CTR counter for stream offset zero.
// Panics if cipher is nil or iv is not IVSize bytes.
func NewCipherStream(f absfs.File, cipher *AESCipher, iv []byte, headerOffset int64) *CipherStream {
	if cipher == nil {
		panic("transcodine: nil cipher for stream")
	}
	if len(iv) != IVSize {
		panic("transcodine: stream IV must be 16 bytes")
	}
	s := &CipherStream{
		f:            f,
		cipher:       cipher,
		headerOffset: headerOffset,
		fileOffset:   headerOffset,
	}
	copy(s.iv[:], iv)
	return s
}

// Offset returns the file offset of the next byte the stream will touch.
func (s *CipherStream) Offset() int64 { return s.fileOffset }

// StreamOffset returns the plaintext offset within the encrypted region.
func (s *CipherStream) StreamOffset() int64 { return s.streamOffset }

// Read fills p with decrypted plaintext from the current position. The
// full length is always read; a short read on the underlying file is an
// IOError.
func (s *CipherStream) Read(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := seekTo(s.f, s.fileOffset); err != nil {
		return err
	}

	ciphertext := make([]byte, len(p))
	if err := readFull(s.f, ciphertext); err != nil {
		return err
	}

	CTRCryptAt(s.cipher, s.iv[:], s.streamOffset, p, ciphertext)
	s.fileOffset += int64(len(p))
	s.streamOffset += int64(len(p))
	return nil
}

// Write encrypts p and writes it at the current position, advancing both
// offsets by len(p).
func (s *CipherStream) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	ciphertext := make([]byte, len(p))
	CTRCryptAt(s.cipher, s.iv[:], s.streamOffset, ciphertext, p)

	if err := seekTo(s.f, s.fileOffset); err != nil {
		return err
	}
	if err := writeFull(s.f, ciphertext); err != nil {
		return err
	}

	s.fileOffset += int64(len(p))
	s.streamOffset += int64(len(p))
	return nil
}

// Skip advances both offsets by n without any I/O. The next read or write
// rewinds the keystream to the block containing the new stream offset.
// Panics if n is negative; a stream cannot move backwards.
func (s *CipherStream) Skip(n int64) {
	if n < 0 {
		panic("transcodine: cannot skip backwards in a cipher stream")
	}
	s.fileOffset += n
	s.streamOffset += n
}
