package transcodine

import "encoding/binary"

// SHA-256 as specified in FIPS-180-4.
const (
	// SHA256Size is the digest size in bytes.
	SHA256Size = 32

	// SHA256BlockSize is the compression-function block size in bytes.
	SHA256BlockSize = 64
)

var sha256K = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1,
	0x923f82a4, 0xab1c5ed5, 0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3,
	0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174, 0xe49b69c1, 0xefbe4786,
	0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147,
	0x06ca6351, 0x14292967, 0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13,
	0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85, 0xa2bfe8a1, 0xa81a664b,
	0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a,
	0x5b9cca4f, 0x682e6ff3, 0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208,
	0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// SHA256 computes a SHA-256 digest incrementally. It implements hash.Hash.
// The zero value is not usable; call NewSHA256.
type SHA256 struct {
	h   [8]uint32
	x   [SHA256BlockSize]byte
	nx  int
	len uint64
}

// NewSHA256 returns a SHA-256 hash ready for writing.
func NewSHA256() *SHA256 {
	d := &SHA256{}
	d.Reset()
	return d
}

// Reset restores the hash to its initial state.
func (d *SHA256) Reset() {
	d.h = [8]uint32{
		0x6a09e667, 0xbb67ae85, 0x3c6ef372, 0xa54ff53a,
		0x510e527f, 0x9b05688c, 0x1f83d9ab, 0x5be0cd19,
	}
	d.nx = 0
	d.len = 0
}

// Size returns SHA256Size.
func (d *SHA256) Size() int { return SHA256Size }

// BlockSize returns SHA256BlockSize.
func (d *SHA256) BlockSize() int { return SHA256BlockSize }

func rotr32(x uint32, n uint) uint32 { return (x >> n) | (x << (32 - n)) }

func (d *SHA256) block(p []byte) {
	var w [64]uint32

	for len(p) >= SHA256BlockSize {
		for i := 0; i < 16; i++ {
			w[i] = binary.BigEndian.Uint32(p[i*4:])
		}
		for i := 16; i < 64; i++ {
			s0 := rotr32(w[i-15], 7) ^ rotr32(w[i-15], 18) ^ (w[i-15] >> 3)
			s1 := rotr32(w[i-2], 17) ^ rotr32(w[i-2], 19) ^ (w[i-2] >> 10)
			w[i] = w[i-16] + s0 + w[i-7] + s1
		}

		a, b, c, e := d.h[0], d.h[1], d.h[2], d.h[4]
		dd, f, g, h := d.h[3], d.h[5], d.h[6], d.h[7]

		for i := 0; i < 64; i++ {
			s1 := rotr32(e, 6) ^ rotr32(e, 11) ^ rotr32(e, 25)
			ch := (e & f) ^ (^e & g)
			t1 := h + s1 + ch + sha256K[i] + w[i]
			s0 := rotr32(a, 2) ^ rotr32(a, 13) ^ rotr32(a, 22)
			maj := (a & b) ^ (a & c) ^ (b & c)
			t2 := s0 + maj

			h = g
			g = f
			f = e
			e = dd + t1
			dd = c
			c = b
			b = a
			a = t1 + t2
		}

		d.h[0] += a
		d.h[1] += b
		d.h[2] += c
		d.h[3] += dd
		d.h[4] += e
		d.h[5] += f
		d.h[6] += g
		d.h[7] += h

		p = p[SHA256BlockSize:]
	}
}

// Write absorbs p into the hash state. It never returns an error.
func (d *SHA256) Write(p []byte) (int, error) {
	n := len(p)
	d.len += uint64(n)

	if d.nx > 0 {
		c := copy(d.x[d.nx:], p)
		d.nx += c
		if d.nx == SHA256BlockSize {
			d.block(d.x[:])
			d.nx = 0
		}
		p = p[c:]
	}
	if len(p) >= SHA256BlockSize {
		whole := len(p) &^ (SHA256BlockSize - 1)
		d.block(p[:whole])
		p = p[whole:]
	}
	if len(p) > 0 {
		d.nx = copy(d.x[:], p)
	}
	return n, nil
}

// Sum appends the current digest to b and returns the result. The hash
// state is not modified, so further writes may follow.
func (d *SHA256) Sum(b []byte) []byte {
	// Finalize a copy so the caller can keep writing.
	d0 := *d

	// Padding: 0x80, zeros, then the 64-bit big-endian bit count.
	var pad [SHA256BlockSize + 8]byte
	pad[0] = 0x80
	padLen := SHA256BlockSize - int(d0.len%SHA256BlockSize) - 8
	if padLen <= 0 {
		padLen += SHA256BlockSize
	}
	binary.BigEndian.PutUint64(pad[padLen:], d0.len*8)
	d0.Write(pad[:padLen+8])

	var out [SHA256Size]byte
	for i, v := range d0.h {
		binary.BigEndian.PutUint32(out[i*4:], v)
	}
	return append(b, out[:]...)
}

// SHA256Sum returns the SHA-256 digest of data.
func SHA256Sum(data []byte) [SHA256Size]byte {
	d := NewSHA256()
	d.Write(data)
	var out [SHA256Size]byte
	copy(out[:], d.Sum(nil))
	return out
}
