package transcodine

// AES-CTR keystream generation. The counter is a 128-bit big-endian integer
// seeded from the IV; block k of the keystream is AES(counter + k).
// Encryption and decryption are the same XOR operation.

// ctrIncrement adds one to a 16-byte big-endian counter, rippling the carry
// from the last byte.
func ctrIncrement(counter []byte) {
	for i := AESBlockSize - 1; i >= 0; i-- {
		counter[i]++
		if counter[i] != 0 {
			break
		}
	}
}

// ctrAdd adds blocks to a 16-byte big-endian counter.
func ctrAdd(counter []byte, blocks uint64) {
	var carry uint64
	for i := AESBlockSize - 1; i >= 0; i-- {
		sum := uint64(counter[i]) + (blocks & 0xff) + carry
		counter[i] = byte(sum)
		carry = sum >> 8
		blocks >>= 8
		if blocks == 0 && carry == 0 {
			break
		}
	}
}

// CTRCrypt XORs src with the AES-CTR keystream into dst, starting at the
// keystream position held in counter. The counter buffer must be exactly
// AESBlockSize bytes and is advanced in place, one increment per block
// consumed, so consecutive calls continue the stream at block granularity.
// dst must be at least as long as src; the two may be the same slice.
// Empty input is a no-op.
func CTRCrypt(c *AESCipher, counter, dst, src []byte) {
	if c == nil || counter == nil {
		panic("transcodine: nil CTR arguments")
	}
	if len(counter) != AESBlockSize {
		panic("transcodine: CTR counter must be 16 bytes")
	}
	if len(dst) < len(src) {
		panic("transcodine: CTR output shorter than input")
	}

	var keystream [AESBlockSize]byte
	processed := 0
	for processed < len(src) {
		c.EncryptBlock(keystream[:], counter)

		n := len(src) - processed
		if n > AESBlockSize {
			n = AESBlockSize
		}
		for j := 0; j < n; j++ {
			dst[processed+j] = src[processed+j] ^ keystream[j]
		}

		ctrIncrement(counter)
		processed += n
	}
}

// CTRCryptAt XORs src with the keystream positioned at plaintext byte
// offset. The iv is left unchanged: the working counter is iv plus
// offset/16 blocks, and the first offset%16 bytes of that block's keystream
// are discarded. This is what allows random access into a CTR stream.
func CTRCryptAt(c *AESCipher, iv []byte, offset int64, dst, src []byte) {
	if c == nil || iv == nil {
		panic("transcodine: nil CTR arguments")
	}
	if len(iv) != AESBlockSize {
		panic("transcodine: CTR IV must be 16 bytes")
	}
	if offset < 0 {
		panic("transcodine: negative CTR offset")
	}
	if len(dst) < len(src) {
		panic("transcodine: CTR output shorter than input")
	}
	if len(src) == 0 {
		return
	}

	var counter [AESBlockSize]byte
	copy(counter[:], iv)
	ctrAdd(counter[:], uint64(offset)/AESBlockSize)

	var keystream [AESBlockSize]byte
	skip := int(offset % AESBlockSize)
	processed := 0
	for processed < len(src) {
		c.EncryptBlock(keystream[:], counter[:])

		n := AESBlockSize - skip
		if remaining := len(src) - processed; n > remaining {
			n = remaining
		}
		for j := 0; j < n; j++ {
			dst[processed+j] = src[processed+j] ^ keystream[skip+j]
		}

		ctrIncrement(counter[:])
		processed += n
		skip = 0
	}
}
