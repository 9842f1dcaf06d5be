package transcodine

import (
	"fmt"

	"github.com/absfs/absfs"
)

// Reserved database namespaces.
const (
	// NamespaceBinID maps a bin's 16-byte identifier to its AES key.
	NamespaceBinID = "bin-id"

	// NamespaceBinFile marks a user-visible bin filename as tracked. The
	// value carries no information; existence is the signal.
	NamespaceBinFile = "bin-file"
)

// dbKeySalt is the fixed purpose-salt for deriving the database key from
// the KEK. Deriving per purpose leaves the KEK free to serve additional
// derivations later.
const dbKeySalt = "aes-key-edb"

// createIDAttempts bounds the fresh-identifier draw when creating a bin.
const createIDAttempts = 16

// DeriveDatabaseKey derives the 32-byte database key from a 32-byte KEK
// using PBKDF2-HMAC-SHA-256 with the database purpose-salt.
func DeriveDatabaseKey(kek []byte) ([]byte, error) {
	if err := validateStorageKey(kek, "kek"); err != nil {
		return nil, err
	}
	return PBKDF2Key(kek, []byte(dbKeySalt), PBKDF2Iterations, KeySize), nil
}

// Store ties the agent's state database to its bins directory. It owns the
// open database for the lifetime of the handle and hands out bin handles
// whose keys it resolves from the bin-id namespace.
//
// A Store is not safe for concurrent use.
type Store struct {
	fs    absfs.FileSystem
	paths Paths
	db    *DB
}

// OpenStore derives the database key from kek, ensures the agent directory
// layout exists, bootstraps the state database if missing, and opens it
// through a working copy. A wrong KEK yields ErrDecryptionFailed.
func OpenStore(fs absfs.FileSystem, paths Paths, kek []byte) (*Store, error) {
	dbKey, err := DeriveDatabaseKey(kek)
	if err != nil {
		return nil, err
	}

	if err := EnsureDir(fs, paths.BinsDir); err != nil {
		return nil, err
	}
	if err := BootstrapDB(fs, dbKey, paths.DatabasePath); err != nil {
		return nil, err
	}

	db, err := OpenDB(fs, dbKey, paths.DatabasePath, tempPath(paths.DatabasePath))
	if err != nil {
		return nil, err
	}
	return &Store{fs: fs, paths: paths, db: db}, nil
}

// DB exposes the open state database for direct reads and writes.
func (s *Store) DB() *DB { return s.db }

// Paths returns the agent layout the store was opened with.
func (s *Store) Paths() Paths { return s.paths }

// Close commits and closes the state database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateBin creates a new encrypted bin tracked under name. A fresh
// identifier is drawn until it does not collide within the bin-id
// namespace; the bin's AES key is stored there and the name is marked in
// the bin-file namespace. Fails with ErrExists if name is already tracked.
func (s *Store) CreateBin(name string) error {
	if err := validateBinName(name); err != nil {
		return err
	}

	tracked, err := s.db.HasNS(NamespaceBinFile, []byte(name))
	if err != nil {
		return err
	}
	if tracked || fileExists(s.fs, s.paths.BinPath(name)) {
		return fmt.Errorf("bin %s: %w", name, ErrExists)
	}

	var id []byte
	for attempt := 0; ; attempt++ {
		if attempt == createIDAttempts {
			return fmt.Errorf("could not draw a fresh bin id after %d attempts", createIDAttempts)
		}
		id, err = RandomASCII(BinIDSize)
		if err != nil {
			return err
		}
		taken, err := s.db.HasNS(NamespaceBinID, id)
		if err != nil {
			return err
		}
		if !taken {
			break
		}
	}

	key, err := CreateBin(s.fs, id, s.paths.BinPath(name))
	if err != nil {
		return err
	}

	if err := s.db.WriteNS(NamespaceBinID, id, key); err != nil {
		return err
	}
	return s.db.WriteNS(NamespaceBinFile, []byte(name), nil)
}

// OpenBinNamed opens the tracked bin name, resolving its key through the
// bin-id namespace.
func (s *Store) OpenBinNamed(name string) (*Bin, error) {
	if err := validateBinName(name); err != nil {
		return nil, err
	}

	tracked, err := s.db.HasNS(NamespaceBinFile, []byte(name))
	if err != nil {
		return nil, err
	}
	if !tracked {
		return nil, fmt.Errorf("bin %s: %w", name, ErrNotFound)
	}

	encryptedPath := s.paths.BinPath(name)
	id, err := PeekBinID(s.fs, encryptedPath)
	if err != nil {
		return nil, err
	}

	key, err := s.db.ReadNS(NamespaceBinID, id)
	if err != nil {
		return nil, fmt.Errorf("bin key for %s: %w", name, err)
	}

	return OpenBin(s.fs, key, encryptedPath, tempPath(encryptedPath))
}

// ListBins returns the tracked bin filenames.
func (s *Store) ListBins() ([]string, error) {
	keys, err := s.db.KeysNS(NamespaceBinFile)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(keys))
	for i, key := range keys {
		names[i] = string(key)
	}
	return names, nil
}

// RemoveBin deletes a tracked bin: the archive file, its key, and its
// tracking entry. The bin must not be open.
func (s *Store) RemoveBin(name string) error {
	if err := validateBinName(name); err != nil {
		return err
	}

	tracked, err := s.db.HasNS(NamespaceBinFile, []byte(name))
	if err != nil {
		return err
	}
	if !tracked {
		return fmt.Errorf("bin %s: %w", name, ErrNotFound)
	}

	encryptedPath := s.paths.BinPath(name)
	id, err := PeekBinID(s.fs, encryptedPath)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(encryptedPath); err != nil {
		return newIOError("remove", encryptedPath, err)
	}
	if err := s.db.RemoveNS(NamespaceBinID, id); err != nil {
		return err
	}
	return s.db.RemoveNS(NamespaceBinFile, []byte(name))
}

// RenameBin retitles a tracked bin. The archive's identifier and key are
// untouched; only the filename moves. Fails with ErrExists if newName is
// already tracked.
func (s *Store) RenameBin(oldName, newName string) error {
	if err := validateBinName(oldName); err != nil {
		return err
	}
	if err := validateBinName(newName); err != nil {
		return err
	}

	tracked, err := s.db.HasNS(NamespaceBinFile, []byte(oldName))
	if err != nil {
		return err
	}
	if !tracked {
		return fmt.Errorf("bin %s: %w", oldName, ErrNotFound)
	}
	taken, err := s.db.HasNS(NamespaceBinFile, []byte(newName))
	if err != nil {
		return err
	}
	if taken || fileExists(s.fs, s.paths.BinPath(newName)) {
		return fmt.Errorf("bin %s: %w", newName, ErrExists)
	}

	if err := s.fs.Rename(s.paths.BinPath(oldName), s.paths.BinPath(newName)); err != nil {
		return newIOError("rename", s.paths.BinPath(newName), err)
	}
	if err := s.db.WriteNS(NamespaceBinFile, []byte(newName), nil); err != nil {
		return err
	}
	return s.db.RemoveNS(NamespaceBinFile, []byte(oldName))
}
