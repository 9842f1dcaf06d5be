package transcodine

import (
	"path"

	"github.com/absfs/absfs"
)

// Paths is the on-disk layout of an agent. It is assembled once at startup
// and passed explicitly; nothing in the package holds path state.
type Paths struct {
	// Root is the agent directory.
	Root string

	// AuthPath is the authentication file maintained by the auth
	// collaborator. The storage core never reads or writes it.
	AuthPath string

	// BinsDir holds one encrypted archive per bin.
	BinsDir string

	// DatabasePath is the encrypted state database tracking bin keys.
	DatabasePath string
}

// DefaultPaths returns the standard layout under home.
func DefaultPaths(home string) Paths {
	root := path.Join(home, ".transcodine")
	return Paths{
		Root:         root,
		AuthPath:     path.Join(root, "auth"),
		BinsDir:      path.Join(root, "bins"),
		DatabasePath: path.Join(root, "state.db"),
	}
}

// BinPath returns the archive path for the bin filename name.
func (p Paths) BinPath(name string) string {
	return path.Join(p.BinsDir, name)
}

// pathCharOK reports whether c is permitted in a directory path. The set
// is restricted to [A-Za-z0-9 ._/-].
func pathCharOK(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') || c == ' ' || c == '.' || c == '-' ||
		c == '_' || c == '/'
}

// EnsureDir creates dir and any missing parents. The path must contain
// only characters in [A-Za-z0-9 ._/-]; anything else is rejected before the
// filesystem is touched.
func EnsureDir(fs absfs.FileSystem, dir string) error {
	if dir == "" {
		return &ValidationError{Field: "dir", Message: "directory path cannot be empty"}
	}
	for i := 0; i < len(dir); i++ {
		if !pathCharOK(dir[i]) {
			return &ValidationError{
				Field:   "dir",
				Value:   dir,
				Message: "invalid character in path",
			}
		}
	}
	if err := fs.MkdirAll(dir, 0700); err != nil {
		return newIOError("mkdir", dir, err)
	}
	return nil
}
