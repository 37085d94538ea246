// Package net implements the transports that dagger nodes use to synchronize
// their transaction graphs.
//
// The Transport interface carries four request/response RPCs:
//
// - GetTips: ask a peer for its current tips.
//
// - GetTx: fetch one transaction by hash, in its canonical wire encoding.
//
// - Have: ask which of a list of hashes the peer does not know.
//
// - PushTx: announce a newly accepted transaction to a peer.
//
// There are two implementations:
//
// - Inmem: in-memory transport used only for testing
//
// - TCP: communicating over plain TCP
//
// TCP
//
// Every request is framed by a byte that identifies the RPC, followed by the
// msgpack encoded request. The response is an error string followed by the
// msgpack encoded response. Connections are pooled per target. A peer that
// sends a frame that cannot be decoded gets its connection closed, and the
// failure surfaces as a PeerProtocolError.
//
// To use a TCP transport, set the following configuration options in the
// dagger Config object (cf config package):
//
// - BindAddr: the IP:PORT of the TCP socket that dagger binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
package net
