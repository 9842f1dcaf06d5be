package transcodine

import (
	"bytes"
	"fmt"
	"os"

	"github.com/absfs/absfs"
)

// DB is an open encrypted key-value database in the EDB64 format. The
// on-disk file is an unencrypted global header (magic plus IV) followed by
// an AES-CTR encrypted body: the unlock sentinel, a sequence of entries,
// and the end marker.
//
// An open database owns a working copy of the encrypted file. All reads
// and mutations operate on the working copy; Close commits it back over
// the encrypted path in one rename. Every mutation rotates the IV and
// re-encrypts the body, since reusing a CTR IV across different plaintexts
// leaks their XOR.
//
// A DB is not safe for concurrent use.
type DB struct {
	fs            absfs.FileSystem
	cipher        *AESCipher
	iv            []byte
	encryptedPath string
	workingPath   string
}

// CreateDB writes a new empty database at encryptedPath, encrypted under
// key. It fails with ErrExists if the path is already occupied.
func CreateDB(fs absfs.FileSystem, key []byte, encryptedPath string) error {
	if err := validateStorageKey(key, "key"); err != nil {
		return err
	}
	if fileExists(fs, encryptedPath) {
		return fmt.Errorf("database %s: %w", encryptedPath, ErrExists)
	}

	cipher, err := NewAESCipher(key[:AESKeySize])
	if err != nil {
		return err
	}
	iv, err := RandomBytes(IVSize)
	if err != nil {
		return err
	}

	f, err := fs.OpenFile(encryptedPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return newIOError("create", encryptedPath, err)
	}
	defer f.Close()

	if err := writeFull(f, []byte(DBMagic)); err != nil {
		return err
	}
	if err := writeFull(f, iv); err != nil {
		return err
	}

	// Sentinel and end marker are the entire body of an empty database.
	body := NewFixedBuffer(2 * MagicSize)
	body.Append([]byte(MagicUnlocked))
	body.Append([]byte(DBMagicEnd))

	stream := NewCipherStream(f, cipher, iv, dbHeaderSize)
	return stream.Write(body.Bytes())
}

// BootstrapDB creates the database if it does not exist and is a no-op
// otherwise.
func BootstrapDB(fs absfs.FileSystem, key []byte, encryptedPath string) error {
	if fileExists(fs, encryptedPath) {
		return nil
	}
	return CreateDB(fs, key, encryptedPath)
}

// OpenDB copies the encrypted database into workingPath, verifies the
// unlock sentinel under key, and returns a handle over the working copy.
// A wrong key yields ErrDecryptionFailed and removes the working copy; the
// encrypted file is never modified by a failed open.
func OpenDB(fs absfs.FileSystem, key []byte, encryptedPath, workingPath string) (*DB, error) {
	if err := validateStorageKey(key, "key"); err != nil {
		return nil, err
	}
	if !fileExists(fs, encryptedPath) {
		return nil, fmt.Errorf("database %s: %w", encryptedPath, ErrNotFound)
	}

	if err := copyFile(fs, workingPath, encryptedPath); err != nil {
		return nil, err
	}

	db, err := openWorkingDB(fs, key, encryptedPath, workingPath)
	if err != nil {
		fs.Remove(workingPath)
		return nil, err
	}
	return db, nil
}

func openWorkingDB(fs absfs.FileSystem, key []byte, encryptedPath, workingPath string) (*DB, error) {
	f, err := fs.OpenFile(workingPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, newIOError("open", workingPath, err)
	}
	defer f.Close()

	magic := make([]byte, MagicSize)
	if err := readFull(f, magic); err != nil {
		return nil, err
	}
	if string(magic) != DBMagic {
		return nil, newCorruptionError(encryptedPath, "not a database file")
	}

	iv := make([]byte, IVSize)
	if err := readFull(f, iv); err != nil {
		return nil, err
	}

	cipher, err := NewAESCipher(key[:AESKeySize])
	if err != nil {
		return nil, err
	}

	stream := NewCipherStream(f, cipher, iv, dbHeaderSize)
	sentinel := make([]byte, MagicSize)
	if err := stream.Read(sentinel); err != nil {
		return nil, err
	}
	if string(sentinel) != MagicUnlocked {
		return nil, ErrDecryptionFailed
	}

	return &DB{
		fs:            fs,
		cipher:        cipher,
		iv:            iv,
		encryptedPath: encryptedPath,
		workingPath:   workingPath,
	}, nil
}

// Close commits the working copy over the encrypted path and invalidates
// the handle. This rename is the only commit point: a crash before it
// leaves the previous encrypted state intact.
func (db *DB) Close() error {
	if db.workingPath == "" {
		return ErrNotOpen
	}
	if err := db.fs.Rename(db.workingPath, db.encryptedPath); err != nil {
		return newIOError("rename", db.encryptedPath, err)
	}
	db.workingPath = ""
	return nil
}

// Discard removes the working copy without committing it, leaving the
// encrypted file as it was at open time.
func (db *DB) Discard() error {
	if db.workingPath == "" {
		return ErrNotOpen
	}
	if err := db.fs.Remove(db.workingPath); err != nil {
		return newIOError("remove", db.workingPath, err)
	}
	db.workingPath = ""
	return nil
}

func (db *DB) requireOpen() error {
	if db.workingPath == "" {
		return ErrNotOpen
	}
	return nil
}

func (db *DB) openWorking(flag int) (absfs.File, error) {
	f, err := db.fs.OpenFile(db.workingPath, flag, 0600)
	if err != nil {
		return nil, newIOError("open", db.workingPath, err)
	}
	return f, nil
}

// findEntry scans the body for key and returns the file offset of the
// matching entry header, or -1 when the key is absent.
func (db *DB) findEntry(key []byte) (int64, error) {
	f, err := db.openWorking(os.O_RDONLY)
	if err != nil {
		return -1, err
	}
	defer f.Close()

	stream := NewCipherStream(f, db.cipher, db.iv, dbHeaderSize)
	stream.Skip(MagicSize)

	magic := make([]byte, MagicSize)
	lens := make([]byte, 16)
	for {
		entryStart := stream.Offset()

		if err := stream.Read(magic); err != nil {
			return -1, err
		}
		if string(magic) == DBMagicEnd {
			return -1, nil
		}
		if string(magic) != DBMagicEntry {
			return -1, newCorruptionError(db.workingPath, "unknown entry magic in database body")
		}

		if err := stream.Read(lens); err != nil {
			return -1, err
		}
		header := decodeEntryLengths(lens)
		if header.KeyLen > maxKeyLen {
			return -1, newCorruptionError(db.workingPath, "implausible key length")
		}

		entryKey := make([]byte, header.KeyLen)
		if err := stream.Read(entryKey); err != nil {
			return -1, err
		}
		if bytes.Equal(entryKey, key) {
			return entryStart, nil
		}
		stream.Skip(int64(header.DataLen))
	}
}

// Read returns the value stored under key, or ErrKeyNotFound.
func (db *DB) Read(key []byte) ([]byte, error) {
	if err := db.requireOpen(); err != nil {
		return nil, err
	}

	offset, err := db.findEntry(key)
	if err != nil {
		return nil, err
	}
	if offset == -1 {
		return nil, ErrKeyNotFound
	}

	f, err := db.openWorking(os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream := NewCipherStream(f, db.cipher, db.iv, dbHeaderSize)
	stream.Skip(offset - dbHeaderSize + MagicSize)

	lens := make([]byte, 16)
	if err := stream.Read(lens); err != nil {
		return nil, err
	}
	header := decodeEntryLengths(lens)
	stream.Skip(int64(header.KeyLen))

	value := make([]byte, header.DataLen)
	if err := stream.Read(value); err != nil {
		return nil, err
	}
	return value, nil
}

// Has reports whether key is present.
func (db *DB) Has(key []byte) (bool, error) {
	if err := db.requireOpen(); err != nil {
		return false, err
	}
	offset, err := db.findEntry(key)
	if err != nil {
		return false, err
	}
	return offset != -1, nil
}

// Write stores value under key, overwriting any previous value. A nil
// value is persisted as a single zero byte: existence is the signal, and
// callers must not rely on telling an empty value apart from it. The IV is
// rotated after the entry lands.
func (db *DB) Write(key, value []byte) error {
	if err := db.requireOpen(); err != nil {
		return err
	}
	if len(key) == 0 {
		return &ValidationError{Field: "key", Message: "database keys cannot be empty"}
	}

	// Overwrite by remove-then-append so keys stay unique.
	existing, err := db.findEntry(key)
	if err != nil {
		return err
	}
	if existing != -1 {
		if err := db.removeEntry(key); err != nil {
			return err
		}
	}

	if value == nil {
		value = []byte{0}
	}

	f, err := db.openWorking(os.O_RDWR)
	if err != nil {
		return err
	}

	size, err := fileSize(db.fs, db.workingPath)
	if err != nil {
		f.Close()
		return err
	}

	// Overwrite the end marker with the new entry, then re-append it.
	stream := NewCipherStream(f, db.cipher, db.iv, dbHeaderSize)
	stream.Skip(size - MagicSize - dbHeaderSize)

	header := encodeEntryHeader(DBMagicEntry, entryHeader{
		KeyLen:  uint64(len(key)),
		DataLen: uint64(len(value)),
	})
	if err := stream.Write(header.Bytes()); err != nil {
		f.Close()
		return err
	}
	if err := stream.Write(key); err != nil {
		f.Close()
		return err
	}
	if err := stream.Write(value); err != nil {
		f.Close()
		return err
	}
	if err := stream.Write([]byte(DBMagicEnd)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return newIOError("close", db.workingPath, err)
	}

	return db.rotateIV()
}

// Remove deletes the entry stored under key. Removing an absent key is a
// no-op. The IV is rotated after a successful removal.
func (db *DB) Remove(key []byte) error {
	if err := db.requireOpen(); err != nil {
		return err
	}

	offset, err := db.findEntry(key)
	if err != nil {
		return err
	}
	if offset == -1 {
		return nil
	}

	if err := db.removeEntry(key); err != nil {
		return err
	}
	return db.rotateIV()
}

// removeEntry rewrites the working copy without the entry matching key,
// streaming through a temporary file under the current IV.
func (db *DB) removeEntry(key []byte) error {
	temp := tempPath(db.workingPath)

	src, err := db.openWorking(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := db.fs.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return newIOError("create", temp, err)
	}
	defer dst.Close()

	// The unencrypted global header is copied verbatim.
	rawHeader := make([]byte, dbHeaderSize)
	if err := readFull(src, rawHeader); err != nil {
		return err
	}
	if err := writeFull(dst, rawHeader); err != nil {
		return err
	}

	r := NewCipherStream(src, db.cipher, db.iv, dbHeaderSize)
	w := NewCipherStream(dst, db.cipher, db.iv, dbHeaderSize)

	sentinel := make([]byte, MagicSize)
	if err := r.Read(sentinel); err != nil {
		return err
	}
	if err := w.Write(sentinel); err != nil {
		return err
	}

	magic := make([]byte, MagicSize)
	lens := make([]byte, 16)
	for {
		if err := r.Read(magic); err != nil {
			return err
		}
		if string(magic) == DBMagicEnd {
			if err := w.Write(magic); err != nil {
				return err
			}
			break
		}
		if string(magic) != DBMagicEntry {
			return newCorruptionError(db.workingPath, "unknown entry magic in database body")
		}

		if err := r.Read(lens); err != nil {
			return err
		}
		header := decodeEntryLengths(lens)
		if header.KeyLen > maxKeyLen {
			return newCorruptionError(db.workingPath, "implausible key length")
		}

		entryKey := make([]byte, header.KeyLen)
		if err := r.Read(entryKey); err != nil {
			return err
		}
		value := make([]byte, header.DataLen)
		if err := r.Read(value); err != nil {
			return err
		}

		if bytes.Equal(entryKey, key) {
			continue
		}
		if err := w.Write(magic); err != nil {
			return err
		}
		if err := w.Write(lens); err != nil {
			return err
		}
		if err := w.Write(entryKey); err != nil {
			return err
		}
		if err := w.Write(value); err != nil {
			return err
		}
	}

	if err := db.fs.Rename(temp, db.workingPath); err != nil {
		return newIOError("rename", db.workingPath, err)
	}
	return nil
}

// rotateIV re-encrypts the whole body under a freshly drawn IV and
// replaces the working copy with the result.
func (db *DB) rotateIV() error {
	newIV, err := RandomBytes(IVSize)
	if err != nil {
		return err
	}

	temp := tempPath(db.workingPath)

	src, err := db.openWorking(os.O_RDONLY)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := db.fs.OpenFile(temp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return newIOError("create", temp, err)
	}
	defer dst.Close()

	size, err := fileSize(db.fs, db.workingPath)
	if err != nil {
		return err
	}
	bodySize := size - dbHeaderSize

	if err := writeFull(dst, []byte(DBMagic)); err != nil {
		return err
	}
	if err := writeFull(dst, newIV); err != nil {
		return err
	}

	r := NewCipherStream(src, db.cipher, db.iv, dbHeaderSize)
	w := NewCipherStream(dst, db.cipher, newIV, dbHeaderSize)

	chunk := make([]byte, ReadChunk)
	for remaining := bodySize; remaining > 0; {
		n := int64(ReadChunk)
		if remaining < n {
			n = remaining
		}
		if err := r.Read(chunk[:n]); err != nil {
			return err
		}
		if err := w.Write(chunk[:n]); err != nil {
			return err
		}
		remaining -= n
	}

	if err := db.fs.Rename(temp, db.workingPath); err != nil {
		return newIOError("rename", db.workingPath, err)
	}
	db.iv = newIV
	return nil
}

// Keys returns every key in the database in entry order.
func (db *DB) Keys() ([][]byte, error) {
	if err := db.requireOpen(); err != nil {
		return nil, err
	}

	f, err := db.openWorking(os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stream := NewCipherStream(f, db.cipher, db.iv, dbHeaderSize)
	stream.Skip(MagicSize)

	var keys [][]byte
	magic := make([]byte, MagicSize)
	lens := make([]byte, 16)
	for {
		if err := stream.Read(magic); err != nil {
			return nil, err
		}
		if string(magic) == DBMagicEnd {
			return keys, nil
		}
		if string(magic) != DBMagicEntry {
			return nil, newCorruptionError(db.workingPath, "unknown entry magic in database body")
		}

		if err := stream.Read(lens); err != nil {
			return nil, err
		}
		header := decodeEntryLengths(lens)
		if header.KeyLen > maxKeyLen {
			return nil, newCorruptionError(db.workingPath, "implausible key length")
		}

		key := make([]byte, header.KeyLen)
		if err := stream.Read(key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
		stream.Skip(int64(header.DataLen))
	}
}

// nsKey prepends "namespace:" to key.
func nsKey(namespace string, key []byte) []byte {
	buf := NewBuffer(len(namespace) + 1 + len(key))
	buf.Append([]byte(namespace))
	buf.AppendByte(':')
	buf.Append(key)
	return buf.Bytes()
}

// WriteNS stores value under key within namespace.
func (db *DB) WriteNS(namespace string, key, value []byte) error {
	return db.Write(nsKey(namespace, key), value)
}

// ReadNS returns the value stored under key within namespace.
func (db *DB) ReadNS(namespace string, key []byte) ([]byte, error) {
	return db.Read(nsKey(namespace, key))
}

// HasNS reports whether key exists within namespace.
func (db *DB) HasNS(namespace string, key []byte) (bool, error) {
	return db.Has(nsKey(namespace, key))
}

// RemoveNS deletes key within namespace.
func (db *DB) RemoveNS(namespace string, key []byte) error {
	return db.Remove(nsKey(namespace, key))
}

// KeysNS returns the keys stored within namespace, with the namespace
// prefix stripped.
func (db *DB) KeysNS(namespace string) ([][]byte, error) {
	all, err := db.Keys()
	if err != nil {
		return nil, err
	}

	prefix := append([]byte(namespace), ':')
	var keys [][]byte
	for _, key := range all {
		if bytes.HasPrefix(key, prefix) {
			keys = append(keys, key[len(prefix):])
		}
	}
	return keys, nil
}
