package node

import (
	"errors"
	"fmt"

	"github.com/mosaicnetworks/dagger/src/ledger"
)

// ErrShutdown is returned by operations submitted after the node stopped.
var ErrShutdown = errors.New("node is shut down")

// SyncTimeoutError is returned when no peer delivered a transaction within
// the allowed attempts. The hash is forgotten until a peer advertises it
// again.
type SyncTimeoutError struct {
	Hash     ledger.Hash
	Attempts int
}

// Error implements the error interface.
func (e *SyncTimeoutError) Error() string {
	return fmt.Sprintf("no peer delivered %s after %d attempts", e.Hash, e.Attempts)
}

// IsSyncTimeout reports whether err is a *SyncTimeoutError.
func IsSyncTimeout(err error) bool {
	_, ok := err.(*SyncTimeoutError)
	return ok
}
