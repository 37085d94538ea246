package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

//Parameters of the secp256k1 curve. They are used in other function to verify
//that a private key or a signature is valid.
var (
	secp256k1N, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)
)

const (
	// PublicKeySize is the length of a compressed public key.
	PublicKeySize = 33
	// PrivateKeySize is the length of a raw private key dump.
	PrivateKeySize = 32
	// SignatureSize is the length of an r||s signature.
	SignatureSize = 64
)

//Curve returns an elliptic.Curve. We use btcsuite's golang implementation of
//secp256k1.
func Curve() elliptic.Curve {
	return btcec.S256()
}
