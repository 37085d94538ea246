// Package keys implements the public key cryptography used to sign and verify
// ledger transactions.
//
// Every account is identified by a secp256k1 public key, the same curve used
// by Bitcoin and Ethereum. Public keys travel in their 33-byte compressed form
// and signatures are the 64-byte concatenation of r and s. Signing is
// deterministic (RFC6979), so the same key and message always produce the same
// signature.
//
// Malformed key or signature bytes are reported as a *CryptoError, which is
// distinct from a well-formed signature that simply does not match.
package keys
