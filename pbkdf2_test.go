package transcodine

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"golang.org/x/crypto/pbkdf2"
)

func TestPBKDF2KnownVectors(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		salt       string
		iterations int
		keyLen     int
		want       string
	}{
		{
			name:       "one iteration",
			password:   "password",
			salt:       "salt",
			iterations: 1,
			keyLen:     32,
			want:       "120fb6cffcf8b32c43e7225256c4f837a86548c92ccc35480805987cb70be17b",
		},
		{
			name:       "two iterations",
			password:   "password",
			salt:       "salt",
			iterations: 2,
			keyLen:     32,
			want:       "ae4d0c95af6b46d32d0adff928f06dd02a303f8ef3c251dfd6e2d85a95474c43",
		},
		{
			name:       "4096 iterations",
			password:   "password",
			salt:       "salt",
			iterations: 4096,
			keyLen:     32,
			want:       "c5e478d59288c841aa530db6845c4c8d962893a001ce4e11a4963873aa98134a",
		},
		{
			name:       "multi-block output",
			password:   "passwordPASSWORDpassword",
			salt:       "saltSALTsaltSALTsaltSALTsaltSALTsalt",
			iterations: 4096,
			keyLen:     40,
			want:       "348c89dbcbd32b2f32d814b8116e84cf2b17347ebc1800181c4e2a1fb8dd53e1c635518c7dac47e9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PBKDF2Key([]byte(tt.password), []byte(tt.salt), tt.iterations, tt.keyLen)
			if hex.EncodeToString(got) != tt.want {
				t.Errorf("PBKDF2Key = %x, want %s", got, tt.want)
			}
		})
	}
}

func TestPBKDF2MatchesXCrypto(t *testing.T) {
	for _, keyLen := range []int{16, 31, 32, 33, 64} {
		password := make([]byte, 19)
		salt := make([]byte, 16)
		rand.Read(password)
		rand.Read(salt)

		got := PBKDF2Key(password, salt, 37, keyLen)
		want := pbkdf2.Key(password, salt, 37, keyLen, sha256.New)
		if !bytes.Equal(got, want) {
			t.Fatalf("keyLen %d: derived key mismatch", keyLen)
		}
	}
}

func TestPBKDF2ZeroLengthPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on zero-length output request")
		}
	}()
	PBKDF2Key([]byte("p"), []byte("s"), 1, 0)
}
