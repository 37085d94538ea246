package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/crypto"
)

// Hash identifies a transaction. It is the digest of the transaction body.
type Hash [crypto.HashSize]byte

// HashFromBytes copies b into a Hash.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != len(h) {
		return h, fmt.Errorf("hash is %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// HashFromString parses the hexadecimal form produced by Hash.String.
func HashFromString(s string) (Hash, error) {
	b, err := common.DecodeFromString(s)
	if err != nil {
		return Hash{}, err
	}
	return HashFromBytes(b)
}

// Bytes returns a copy of the hash as a slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, len(h))
	copy(b, h[:])
	return b
}

// String returns the 0X-prefixed uppercase hex form.
func (h Hash) String() string {
	return common.EncodeToString(h[:])
}

// Less orders hashes lexicographically.
func (h Hash) Less(o Hash) bool {
	return bytes.Compare(h[:], o[:]) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Hash) UnmarshalText(text []byte) error {
	res, err := HashFromString(string(text))
	if err != nil {
		return err
	}
	*h = res
	return nil
}

// SortHashes sorts hashes in place, smallest first.
func SortHashes(hashes []Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].Less(hashes[j])
	})
}

func hashesToBytes(hashes []Hash) [][]byte {
	res := make([][]byte, len(hashes))
	for i, h := range hashes {
		res[i] = h.Bytes()
	}
	return res
}

func hashesFromBytes(bs [][]byte) ([]Hash, error) {
	res := make([]Hash, len(bs))
	for i, b := range bs {
		h, err := HashFromBytes(b)
		if err != nil {
			return nil, err
		}
		res[i] = h
	}
	return res, nil
}
