package transcodine

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// End-to-end scenarios driving the whole storage path: KEK, derived
// database key, database, bins, and the cipher streams underneath.

func TestIntegrationCreateThenReadDatabase(t *testing.T) {
	fs := newTestFS(t)
	kek := testKey(0xAA)
	dbKey, err := DeriveDatabaseKey(kek)
	if err != nil {
		t.Fatalf("DeriveDatabaseKey: %v", err)
	}

	if err := CreateDB(fs, dbKey, "/state.db"); err != nil {
		t.Fatalf("CreateDB: %v", err)
	}
	db, err := OpenDB(fs, dbKey, "/state.db", "/state.db.work")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := db.Write([]byte("alpha"), []byte("one")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = OpenDB(fs, dbKey, "/state.db", "/state.db.work")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	got, err := db.Read([]byte("alpha"))
	if err != nil || string(got) != "one" {
		t.Errorf("Read(alpha) = %q, %v, want \"one\"", got, err)
	}
	has, err := db.Has([]byte("beta"))
	if err != nil || has {
		t.Errorf("Has(beta) = %v, %v, want false", has, err)
	}
}

func TestIntegrationWriteRotatesOnDiskIV(t *testing.T) {
	fs := newTestFS(t)
	dbKey, err := DeriveDatabaseKey(testKey(0xAA))
	if err != nil {
		t.Fatalf("DeriveDatabaseKey: %v", err)
	}
	if err := CreateDB(fs, dbKey, "/state.db"); err != nil {
		t.Fatalf("CreateDB: %v", err)
	}
	iv0 := readFileRange(t, fs, "/state.db", MagicSize, IVSize)

	db, err := OpenDB(fs, dbKey, "/state.db", "/state.db.work")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := db.Write([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	iv1 := readFileRange(t, fs, "/state.db", MagicSize, IVSize)
	if bytes.Equal(iv0, iv1) {
		t.Errorf("IV field on disk unchanged after a write")
	}
}

func TestIntegrationFullAgentFlow(t *testing.T) {
	fs := newTestFS(t)
	paths := DefaultPaths("/home/agent")
	kek := testKey(0xAA)

	store, err := OpenStore(fs, paths, kek)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	if err := store.CreateBin("documents"); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}

	payload := make([]byte, 10000)
	rand.Read(payload)

	bin, err := store.OpenBinNamed("documents")
	if err != nil {
		t.Fatalf("OpenBinNamed: %v", err)
	}
	if err := bin.AddFile("a.txt", []byte("hello")); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.AddFile("dir/b.bin", payload); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := bin.Close(); err != nil {
		t.Fatalf("bin Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("store Close: %v", err)
	}

	// A second session sees everything the first one committed.
	store, err = OpenStore(fs, paths, kek)
	if err != nil {
		t.Fatalf("second OpenStore: %v", err)
	}
	defer store.Close()

	bin, err = store.OpenBinNamed("documents")
	if err != nil {
		t.Fatalf("second OpenBinNamed: %v", err)
	}
	defer bin.Close()

	paths2, err := bin.ListFiles()
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(paths2) != 2 || paths2[0] != "a.txt" || paths2[1] != "dir/b.bin" {
		t.Fatalf("ListFiles = %q", paths2)
	}

	var hello []byte
	found, err := bin.CatFile("a.txt", func(chunk []byte) error {
		hello = append(hello, chunk...)
		return nil
	})
	if err != nil || !found {
		t.Fatalf("CatFile = %v, %v", found, err)
	}
	if string(hello) != "hello" {
		t.Errorf("CatFile fed %q", hello)
	}

	big, err := bin.ReadFile("dir/b.bin")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(big, payload) {
		t.Errorf("large file corrupted across sessions")
	}
}

func TestIntegrationWrongPassword(t *testing.T) {
	fs := newTestFS(t)
	paths := DefaultPaths("/home/agent")

	store, err := OpenStore(fs, paths, testKey(0xAA))
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := store.CreateBin("b"); err != nil {
		t.Fatalf("CreateBin: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dbBytes := readWholeFile(t, fs, paths.DatabasePath)
	binBytes := readWholeFile(t, fs, paths.BinPath("b"))

	_, err = OpenStore(fs, paths, testKey(0xBB))
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Fatalf("OpenStore with wrong KEK = %v, want ErrDecryptionFailed", err)
	}

	if !bytes.Equal(dbBytes, readWholeFile(t, fs, paths.DatabasePath)) {
		t.Errorf("failed unlock modified the database file")
	}
	if !bytes.Equal(binBytes, readWholeFile(t, fs, paths.BinPath("b"))) {
		t.Errorf("failed unlock modified a bin file")
	}
}

func TestIntegrationManyEntriesSurviveRotationChurn(t *testing.T) {
	fs := newTestFS(t)
	dbKey, err := DeriveDatabaseKey(testKey(0x77))
	if err != nil {
		t.Fatalf("DeriveDatabaseKey: %v", err)
	}
	if err := CreateDB(fs, dbKey, "/state.db"); err != nil {
		t.Fatalf("CreateDB: %v", err)
	}
	db, err := OpenDB(fs, dbKey, "/state.db", "/state.db.work")
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	defer db.Close()

	// Every write rotates the IV; all prior entries must survive each one.
	want := map[string][]byte{}
	for i := 0; i < 40; i++ {
		key := []byte{byte('a' + i%26), byte('0' + i/26)}
		value := make([]byte, i*13+1)
		rand.Read(value)
		if err := db.Write(key, value); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
		want[string(key)] = value
	}

	for key, value := range want {
		got, err := db.Read([]byte(key))
		if err != nil {
			t.Fatalf("Read(%q): %v", key, err)
		}
		if !bytes.Equal(got, value) {
			t.Errorf("Read(%q) returned wrong bytes", key)
		}
	}
}
