package transcodine

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/absfs/absfs"
)

const (
	testBinPath    = "/bins/test.bin"
	testBinWorking = "/bins/test.bin.work"
)

func newTestBinID(t *testing.T) []byte {
	t.Helper()
	id, err := RandomASCII(BinIDSize)
	if err != nil {
		t.Fatalf("RandomASCII: %v", err)
	}
	return id
}

// openTestBin creates a fresh bin and opens it.
func openTestBin(t *testing.T) (*Bin, []byte, absfs.FileSystem) {
	t.Helper()
	fs := newTestFS(t)
	if err := fs.MkdirAll("/bins", 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	key, err := CreateBin(fs, newTestBinID(t), testBinPath)
	if err != nil {
		t.Fatalf("CreateBin: %v", err)
	}
	bin, err := OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("OpenBin: %v", err)
	}
	return bin, key, fs
}

func TestBinCreateRefusesExisting(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.MkdirAll("/bins", 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := CreateBin(fs, newTestBinID(t), testBinPath); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}
	if _, err := CreateBin(fs, newTestBinID(t), testBinPath); !errors.Is(err, ErrExists) {
		t.Errorf("second CreateBin = %v, want ErrExists", err)
	}
}

func TestBinCreateRejectsBadIDs(t *testing.T) {
	fs := newTestFS(t)
	for _, id := range [][]byte{nil, []byte("short"), bytes.Repeat([]byte{'!'}, BinIDSize)} {
		if _, err := CreateBin(fs, id, testBinPath); err == nil {
			t.Errorf("CreateBin accepted id %q", id)
		}
	}
}

func TestBinPeekID(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.MkdirAll("/bins", 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	id := newTestBinID(t)
	if _, err := CreateBin(fs, id, testBinPath); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}

	got, err := PeekBinID(fs, testBinPath)
	if err != nil {
		t.Fatalf("PeekBinID: %v", err)
	}
	if !bytes.Equal(got, id) {
		t.Errorf("PeekBinID = %q, want %q", got, id)
	}
}

func TestBinAddListCat(t *testing.T) {
	bin, _, _ := openTestBin(t)

	big := make([]byte, 10000)
	rand.Read(big)

	if err := bin.AddFile("a.txt", []byte("hello")); err != nil {
		t.Fatalf("AddFile(a.txt): %v", err)
	}
	if err := bin.AddFile("dir/b.bin", big); err != nil {
		t.Fatalf("AddFile(dir/b.bin): %v", err)
	}

	paths, err := bin.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	want := []string{"a.txt", "dir/b.bin"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("ListFiles = %q, want %q", paths, want)
	}

	var collected []byte
	found, err := bin.CatFile("a.txt", func(chunk []byte) error {
		if len(chunk) > ReadChunk {
			t.Errorf("chunk of %d bytes exceeds ReadChunk", len(chunk))
		}
		collected = append(collected, chunk...)
		return nil
	})
	if err != nil || !found {
		t.Fatalf("CatFile = %v, %v", found, err)
	}
	if string(collected) != "hello" {
		t.Errorf("CatFile fed %q, want %q", collected, "hello")
	}

	got, err := bin.ReadFile("dir/b.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("ReadFile returned wrong contents for dir/b.bin")
	}
}

func TestBinCatMissingReturnsFalse(t *testing.T) {
	bin, _, _ := openTestBin(t)

	found, err := bin.CatFile("ghost", func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("CatFile: %v", err)
	}
	if found {
		t.Errorf("CatFile found a file that was never added")
	}

	if _, err := bin.ReadFile("ghost"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("ReadFile = %v, want ErrPathNotFound", err)
	}
}

func TestBinFindFile(t *testing.T) {
	bin, _, _ := openTestBin(t)

	if err := bin.AddFile("x", []byte("1")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	offset, err := bin.FindFile("x")
	if err != nil {
		t.Fatalf("FindFile: %v", err)
	}
	if offset != MagicSize {
		t.Errorf("FindFile(x) = %d, want %d", offset, MagicSize)
	}

	offset, err = bin.FindFile("y")
	if err != nil {
		t.Fatalf("FindFile: %v", err)
	}
	if offset != -1 {
		t.Errorf("FindFile(y) = %d, want -1", offset)
	}
}

func TestBinDuplicatePathRejected(t *testing.T) {
	bin, _, _ := openTestBin(t)

	if err := bin.AddFile("a", []byte("1")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.AddFile("a", []byte("2")); !errors.Is(err, ErrPathExists) {
		t.Errorf("duplicate AddFile = %v, want ErrPathExists", err)
	}
}

func TestBinStreamingWriteChunks(t *testing.T) {
	bin, key, fs := openTestBin(t)

	data := make([]byte, 40000)
	rand.Read(data)

	if err := bin.OpenFile("streamed"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	// Uneven chunk sizes must not change the stored bytes.
	sizes := []int{1, 511, 512, 513, 7, 10000}
	offset := 0
	for i := 0; offset < len(data); i++ {
		n := sizes[i%len(sizes)]
		if offset+n > len(data) {
			n = len(data) - offset
		}
		if err := bin.WriteFile(data[offset : offset+n]); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		offset += n
	}
	if err := bin.CloseFile(); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}

	got, err := bin.ReadFile("streamed")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("streamed write round trip mismatch")
	}

	// The data survives a close and reopen unchanged.
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	bin, err = OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bin.Close()

	got, err = bin.ReadFile("streamed")
	if err != nil {
		t.Fatalf("ReadFile after reopen: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("reopened bin lost streamed data")
	}
}

func TestBinWriteFileRequiresOpenFile(t *testing.T) {
	bin, _, _ := openTestBin(t)

	if err := bin.WriteFile([]byte("x")); !errors.Is(err, ErrNoFileOpen) {
		t.Errorf("WriteFile = %v, want ErrNoFileOpen", err)
	}
	if err := bin.CloseFile(); !errors.Is(err, ErrNoFileOpen) {
		t.Errorf("CloseFile = %v, want ErrNoFileOpen", err)
	}
}

func TestBinScanBlockedDuringStreamingWrite(t *testing.T) {
	bin, _, _ := openTestBin(t)

	if err := bin.OpenFile("inflight"); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := bin.ListFiles(); !errors.Is(err, ErrFileOpen) {
		t.Errorf("ListFiles during write = %v, want ErrFileOpen", err)
	}
	if err := bin.Close(); !errors.Is(err, ErrFileOpen) {
		t.Errorf("Close during write = %v, want ErrFileOpen", err)
	}
	if err := bin.CloseFile(); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
}

func TestBinRemoveFile(t *testing.T) {
	bin, key, fs := openTestBin(t)

	big := make([]byte, 10000)
	rand.Read(big)
	if err := bin.AddFile("a.txt", []byte("hello")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.AddFile("dir/b.bin", big); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sizeBefore, err := fileSize(fs, testBinPath)
	if err != nil {
		t.Fatalf("fileSize: %v", err)
	}

	bin, err = OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	removed, err := bin.RemoveFile("a.txt")
	if err != nil || !removed {
		t.Fatalf("RemoveFile = %v, %v", removed, err)
	}

	paths, err := bin.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(paths) != 1 || paths[0] != "dir/b.bin" {
		t.Errorf("ListFiles after remove = %q", paths)
	}

	got, err := bin.ReadFile("dir/b.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, big) {
		t.Errorf("surviving file corrupted by removal")
	}

	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sizeAfter, err := fileSize(fs, testBinPath)
	if err != nil {
		t.Fatalf("fileSize: %v", err)
	}
	if sizeAfter >= sizeBefore {
		t.Errorf("file size %d did not shrink from %d", sizeAfter, sizeBefore)
	}

	// Removing an absent path reports false without error.
	bin, err = OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bin.Close()
	removed, err = bin.RemoveFile("a.txt")
	if err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}
	if removed {
		t.Errorf("RemoveFile removed an absent path")
	}
}

func TestBinCopyAndMove(t *testing.T) {
	bin, _, _ := openTestBin(t)

	data := make([]byte, 3000)
	rand.Read(data)
	if err := bin.AddFile("src", data); err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	if err := bin.CopyFile("src", "copy"); err != nil {
		t.Fatalf("CopyFile: %v", err)
	}
	got, err := bin.ReadFile("copy")
	if err != nil || !bytes.Equal(got, data) {
		t.Fatalf("copy contents wrong: %v", err)
	}
	if _, err := bin.ReadFile("src"); err != nil {
		t.Errorf("source vanished after copy: %v", err)
	}

	if err := bin.CopyFile("missing", "x"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("CopyFile from missing = %v, want ErrPathNotFound", err)
	}
	if err := bin.CopyFile("src", "copy"); !errors.Is(err, ErrPathExists) {
		t.Errorf("CopyFile onto existing = %v, want ErrPathExists", err)
	}

	if err := bin.MoveFile("src", "moved"); err != nil {
		t.Fatalf("MoveFile: %v", err)
	}
	if _, err := bin.ReadFile("src"); !errors.Is(err, ErrPathNotFound) {
		t.Errorf("source still present after move")
	}
	got, err = bin.ReadFile("moved")
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("moved contents wrong: %v", err)
	}
}

func TestBinCleanCloseLeavesFileUntouched(t *testing.T) {
	bin, key, fs := openTestBin(t)
	if err := bin.AddFile("a", []byte("1")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	before := readWholeFile(t, fs, testBinPath)

	// Open, only read, close: not dirty, so no rewrite.
	bin, err := OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("OpenBin: %v", err)
	}
	if _, err := bin.ListFiles(); err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !bytes.Equal(before, readWholeFile(t, fs, testBinPath)) {
		t.Errorf("clean close rewrote the encrypted file")
	}
	if fileExists(fs, testBinWorking) {
		t.Errorf("working copy left behind after Close")
	}
}

func TestBinDirtyCloseRotatesIV(t *testing.T) {
	bin, key, fs := openTestBin(t)

	iv0 := readFileRange(t, fs, testBinPath, MagicSize+BinIDSize, IVSize)
	if err := bin.AddFile("a", []byte("1")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	iv1 := readFileRange(t, fs, testBinPath, MagicSize+BinIDSize, IVSize)

	if bytes.Equal(iv0, iv1) {
		t.Errorf("dirty close kept the old IV")
	}

	// Contents still decrypt under the rotated IV.
	bin, err := OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("reopen after rotation: %v", err)
	}
	defer bin.Close()
	got, err := bin.ReadFile("a")
	if err != nil || string(got) != "1" {
		t.Errorf("ReadFile after rotation = %q, %v", got, err)
	}
}

func TestBinWrongKeyFailsCleanly(t *testing.T) {
	fs := newTestFS(t)
	if err := fs.MkdirAll("/bins", 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := CreateBin(fs, newTestBinID(t), testBinPath); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}
	before := readWholeFile(t, fs, testBinPath)

	_, err := OpenBin(fs, testKey(0xBB), testBinPath, testBinWorking)
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("OpenBin with wrong key = %v, want ErrDecryptionFailed", err)
	}
	if !bytes.Equal(before, readWholeFile(t, fs, testBinPath)) {
		t.Errorf("failed open modified the encrypted file")
	}
	if fileExists(fs, testBinWorking) {
		t.Errorf("failed open left a working copy behind")
	}
}

func TestBinIDSurvivesReopen(t *testing.T) {
	bin, key, fs := openTestBin(t)
	id := bin.ID()
	if err := bin.AddFile("a", []byte("1")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	bin, err := OpenBin(fs, key, testBinPath, testBinWorking)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer bin.Close()
	if !bytes.Equal(bin.ID(), id) {
		t.Errorf("bin id changed across dirty close: %q -> %q", id, bin.ID())
	}
}
