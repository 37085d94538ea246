package keys

import "fmt"

// CryptoError reports key or signature bytes that cannot be interpreted at
// all. A well-formed signature that does not match is not a CryptoError.
type CryptoError struct {
	msg string
}

func newCryptoError(format string, args ...interface{}) *CryptoError {
	return &CryptoError{msg: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *CryptoError) Error() string {
	return "crypto: " + e.msg
}

// IsCryptoError reports whether err is a *CryptoError.
func IsCryptoError(err error) bool {
	_, ok := err.(*CryptoError)
	return ok
}
