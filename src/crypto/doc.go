// Package crypto provides the content hash used to identify ledger
// transactions. Signatures live in the keys sub-package.
package crypto
