package crypto

import (
	"github.com/zeebo/blake3"
)

// HashSize is the length in bytes of the digests returned by Hash.
const HashSize = 32

// Hash returns the BLAKE3-256 digest of the data.
func Hash(data []byte) [HashSize]byte {
	return blake3.Sum256(data)
}
