package net

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrRPCTimeout is returned when a peer does not answer in time.
	ErrRPCTimeout = errors.New("rpc timed out")
)

// PeerProtocolError is returned when a peer sends a message that cannot be
// decoded or that contradicts the request. The connection to that peer is
// dropped; other connections are unaffected.
type PeerProtocolError struct {
	Peer string
	Msg  string
}

// NewPeerProtocolError ...
func NewPeerProtocolError(peer string, format string, args ...interface{}) *PeerProtocolError {
	return &PeerProtocolError{
		Peer: peer,
		Msg:  fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (e *PeerProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Peer, e.Msg)
}

// IsPeerProtocol reports whether err is a *PeerProtocolError.
func IsPeerProtocol(err error) bool {
	_, ok := err.(*PeerProtocolError)
	return ok
}
