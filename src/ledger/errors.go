package ledger

import "fmt"

// ErrorKind classifies why a transaction was not accepted.
type ErrorKind int

const (
	// Malformed covers undecodable payloads, bad hash lengths, duplicate
	// parents and similar structural defects.
	Malformed ErrorKind = iota
	// CryptoError means the sender key or the signature bytes are malformed.
	CryptoError
	// InvalidSignature means a well-formed signature does not match.
	InvalidSignature
	// InvalidGenesis is a parentless transaction on a non-empty graph, or a
	// genesis payload anywhere but on the root.
	InvalidGenesis
	// MissingParent is recoverable: the transaction waits for its parents.
	MissingParent
	// CycleDetected is permanent.
	CycleDetected
	// TimestampRegression means the timestamp precedes a parent's.
	TimestampRegression
	// InvalidNonce means the nonce is neither the next one nor a double-spend
	// of an accepted nonce.
	InvalidNonce
	// InsufficientBalance means the sender cannot cover the transfer.
	InsufficientBalance
)

// String ...
func (k ErrorKind) String() string {
	switch k {
	case Malformed:
		return "Malformed"
	case CryptoError:
		return "CryptoError"
	case InvalidSignature:
		return "InvalidSignature"
	case InvalidGenesis:
		return "InvalidGenesis"
	case MissingParent:
		return "MissingParent"
	case CycleDetected:
		return "CycleDetected"
	case TimestampRegression:
		return "TimestampRegression"
	case InvalidNonce:
		return "InvalidNonce"
	case InsufficientBalance:
		return "InsufficientBalance"
	default:
		return "Unknown"
	}
}

// Permanent reports whether a transaction rejected for this reason can never
// become valid, whatever else arrives later.
func (k ErrorKind) Permanent() bool {
	switch k {
	case Malformed, CryptoError, InvalidSignature, InvalidGenesis, CycleDetected, TimestampRegression:
		return true
	default:
		return false
	}
}

// ValidationError is the structured rejection returned to submitters.
type ValidationError struct {
	Kind ErrorKind
	Hash Hash
	Msg  string
}

// NewValidationError ...
func NewValidationError(kind ErrorKind, hash Hash, format string, args ...interface{}) *ValidationError {
	return &ValidationError{
		Kind: kind,
		Hash: hash,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Hash, e.Kind, e.Msg)
}

// IsValidation checks that err is a *ValidationError of the given kind.
func IsValidation(err error, kind ErrorKind) bool {
	vErr, ok := err.(*ValidationError)
	return ok && vErr.Kind == kind
}

// StoreIOError wraps a failure of the underlying database. The node cannot
// continue safely after one.
type StoreIOError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StoreIOError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

// IsStoreIO reports whether err is a *StoreIOError.
func IsStoreIO(err error) bool {
	_, ok := err.(*StoreIOError)
	return ok
}

func storeIOError(op string, err error) error {
	if err == nil || IsStoreIO(err) {
		return err
	}
	return &StoreIOError{Op: op, Err: err}
}
