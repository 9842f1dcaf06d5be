package transcodine

import (
	"crypto/rand"
	"fmt"
)

// base62Alphabet maps random bytes onto identifier-safe ASCII.
const base62Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// RandomBytes reads exactly n bytes from the operating system's
// cryptographic random source (/dev/urandom on Unix). An error means the
// source could not be read; a short read never returns partial data.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		panic("transcodine: random byte count must be positive")
	}
	out := make([]byte, n)
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to read random source: %w", err)
	}
	return out, nil
}

// RandomASCII reads n random bytes and maps each one modulo 62 into the
// set [A-Za-z0-9]. The modulo bias is accepted for identifier generation;
// keys and IVs must use RandomBytes instead.
func RandomASCII(n int) ([]byte, error) {
	out, err := RandomBytes(n)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i] = base62Alphabet[out[i]%62]
	}
	return out, nil
}
