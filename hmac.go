package transcodine

// HMAC-SHA-256 as specified in RFC 2104. Keys longer than the SHA-256
// block size are hashed down; shorter keys are zero-padded to the block
// size before the ipad/opad XOR.

const (
	hmacIpad = 0x36
	hmacOpad = 0x5c
)

// HMACSHA256 holds the inner hash state of an in-progress MAC. It
// implements hash.Hash with Size() == SHA256Size.
type HMACSHA256 struct {
	inner *SHA256
	opad  [SHA256BlockSize]byte
}

// NewHMACSHA256 returns an HMAC keyed with key, ready for writing.
func NewHMACSHA256(key []byte) *HMACSHA256 {
	var pad [SHA256BlockSize]byte
	if len(key) > SHA256BlockSize {
		sum := SHA256Sum(key)
		copy(pad[:], sum[:])
	} else {
		copy(pad[:], key)
	}

	m := &HMACSHA256{inner: NewSHA256()}
	var ipad [SHA256BlockSize]byte
	for i := 0; i < SHA256BlockSize; i++ {
		ipad[i] = pad[i] ^ hmacIpad
		m.opad[i] = pad[i] ^ hmacOpad
	}
	m.inner.Write(ipad[:])
	return m
}

// Write absorbs p into the MAC. It never returns an error.
func (m *HMACSHA256) Write(p []byte) (int, error) {
	return m.inner.Write(p)
}

// Sum appends the MAC to b and returns the result. The MAC state is not
// modified.
func (m *HMACSHA256) Sum(b []byte) []byte {
	innerSum := m.inner.Sum(nil)
	outer := NewSHA256()
	outer.Write(m.opad[:])
	outer.Write(innerSum)
	return outer.Sum(b)
}

// Reset is not supported; construct a new MAC instead.
func (m *HMACSHA256) Reset() {
	panic("transcodine: HMAC reset is not supported")
}

// Size returns SHA256Size.
func (m *HMACSHA256) Size() int { return SHA256Size }

// BlockSize returns SHA256BlockSize.
func (m *HMACSHA256) BlockSize() int { return SHA256BlockSize }

// HMACSHA256Sum returns the HMAC-SHA-256 of msg under key.
func HMACSHA256Sum(key, msg []byte) [SHA256Size]byte {
	m := NewHMACSHA256(key)
	m.Write(msg)
	var out [SHA256Size]byte
	copy(out[:], m.Sum(nil))
	return out
}
