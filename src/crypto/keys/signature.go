package keys

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// Sign produces the deterministic r||s signature of msg, which is expected to
// be a digest.
func Sign(priv *ecdsa.PrivateKey, msg []byte) ([]byte, error) {
	sig, err := (*btcec.PrivateKey)(priv).Sign(msg)
	if err != nil {
		return nil, err
	}
	return EncodeSignature(sig.R, sig.S), nil
}

// Verify checks sig against msg and the serialized public key. It returns a
// *CryptoError when pub or sig cannot be parsed, and false when they parse but
// do not match.
func Verify(pub []byte, msg []byte, sig []byte) (bool, error) {
	pubKey, err := ToPublicKey(pub)
	if err != nil {
		return false, err
	}

	r, s, err := DecodeSignature(sig)
	if err != nil {
		return false, err
	}

	return ecdsa.Verify(pubKey, msg, r, s), nil
}

// EncodeSignature returns the 64-byte r||s form of a signature.
func EncodeSignature(r, s *big.Int) []byte {
	res := make([]byte, SignatureSize)
	copy(res[:SignatureSize/2], paddedBigBytes(r, SignatureSize/2))
	copy(res[SignatureSize/2:], paddedBigBytes(s, SignatureSize/2))
	return res
}

// DecodeSignature splits an r||s signature as produced by EncodeSignature.
func DecodeSignature(sig []byte) (r, s *big.Int, err error) {
	if len(sig) != SignatureSize {
		return nil, nil, newCryptoError("signature is %d bytes, want %d", len(sig), SignatureSize)
	}

	r = new(big.Int).SetBytes(sig[:SignatureSize/2])
	s = new(big.Int).SetBytes(sig[SignatureSize/2:])

	for _, v := range []*big.Int{r, s} {
		if v.Sign() <= 0 || v.Cmp(secp256k1N) >= 0 {
			return nil, nil, newCryptoError("signature value out of range")
		}
	}

	return r, s, nil
}
