package transcodine

import "encoding/binary"

// PBKDF2-HMAC-SHA-256 as specified in RFC 8018.

// PBKDF2Iterations is the iteration count used for every key derivation in
// the storage core.
const PBKDF2Iterations = 16384

// PBKDF2Key derives keyLen bytes from password and salt using iterations
// rounds of HMAC-SHA-256. Blocks are indexed with a 32-bit big-endian
// counter starting at 1; each block is the XOR of U1 through Uc. Panics if
// keyLen or iterations is not positive.
func PBKDF2Key(password, salt []byte, iterations, keyLen int) []byte {
	if keyLen <= 0 {
		panic("transcodine: PBKDF2 key length must be positive")
	}
	if iterations <= 0 {
		panic("transcodine: PBKDF2 iteration count must be positive")
	}

	blockCount := (keyLen + SHA256Size - 1) / SHA256Size
	out := NewBuffer(blockCount * SHA256Size)

	var blockIndex [4]byte
	var u, t [SHA256Size]byte
	remaining := keyLen

	for i := 1; i <= blockCount; i++ {
		// U1 = HMAC(P, S || INT(i))
		binary.BigEndian.PutUint32(blockIndex[:], uint32(i))
		mac := NewHMACSHA256(password)
		mac.Write(salt)
		mac.Write(blockIndex[:])
		copy(u[:], mac.Sum(nil))
		t = u

		// U2 .. Uc, XORed into the block
		for j := 1; j < iterations; j++ {
			mac = NewHMACSHA256(password)
			mac.Write(u[:])
			copy(u[:], mac.Sum(nil))
			for k := 0; k < SHA256Size; k++ {
				t[k] ^= u[k]
			}
		}

		n := remaining
		if n > SHA256Size {
			n = SHA256Size
		}
		out.Append(t[:n])
		remaining -= n
	}

	return out.Bytes()[:keyLen]
}
