package transcodine

import (
	"fmt"
	"io"
	"os"

	"github.com/absfs/absfs"
	"github.com/google/uuid"
)

// Full-transfer I/O helpers. Short reads and short writes are never
// tolerated at a transfer boundary; they surface as IOErrors.

// readFull reads exactly len(p) bytes from f.
func readFull(f absfs.File, p []byte) error {
	if _, err := io.ReadFull(f, p); err != nil {
		return newIOError("read", f.Name(), fmt.Errorf("unexpected EOF: %w", err))
	}
	return nil
}

// writeFull writes all of p to f.
func writeFull(f absfs.File, p []byte) error {
	n, err := f.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return newIOError("write", f.Name(), fmt.Errorf("failed to write bytes: %w", err))
	}
	return nil
}

// seekTo positions f at an absolute offset.
func seekTo(f absfs.File, offset int64) error {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return newIOError("seek", f.Name(), err)
	}
	return nil
}

// fileExists reports whether path exists on fs.
func fileExists(fs absfs.FileSystem, path string) bool {
	_, err := fs.Stat(path)
	return err == nil
}

// fileSize returns the size of path on fs.
func fileSize(fs absfs.FileSystem, path string) (int64, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return 0, newIOError("stat", path, err)
	}
	return info.Size(), nil
}

// copyFile copies src to dst on fs, truncating dst if it exists.
func copyFile(fs absfs.FileSystem, dst, src string) error {
	in, err := fs.OpenFile(src, os.O_RDONLY, 0)
	if err != nil {
		return newIOError("open", src, err)
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return newIOError("open", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return newIOError("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		return newIOError("close", dst, err)
	}
	return nil
}

// tempPath derives a unique sibling path for base, used for working copies
// and rotation targets.
func tempPath(base string) string {
	return base + "." + uuid.NewString() + ".tmp"
}
