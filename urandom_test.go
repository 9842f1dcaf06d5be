package transcodine

import (
	"bytes"
	"testing"
)

func TestRandomBytesLength(t *testing.T) {
	for _, n := range []int{1, 16, 32, 1000} {
		out, err := RandomBytes(n)
		if err != nil {
			t.Fatalf("RandomBytes(%d): %v", n, err)
		}
		if len(out) != n {
			t.Errorf("RandomBytes(%d) returned %d bytes", n, len(out))
		}
	}
}

func TestRandomBytesNotConstant(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Errorf("two 32-byte draws were identical")
	}
}

func TestRandomASCIIAlphabet(t *testing.T) {
	out, err := RandomASCII(1000)
	if err != nil {
		t.Fatalf("RandomASCII: %v", err)
	}
	if len(out) != 1000 {
		t.Fatalf("RandomASCII returned %d bytes", len(out))
	}
	for i, c := range out {
		ok := (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
		if !ok {
			t.Fatalf("byte %d = %q outside [A-Za-z0-9]", i, c)
		}
	}
}

func TestRandomBytesZeroPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on non-positive count")
		}
	}()
	RandomBytes(0)
}
