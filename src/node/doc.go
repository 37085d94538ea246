// Package node implements the reactive component of a dagger node.
//
// This is the part of dagger that controls the sync routines and feeds the
// ledger Graph. Node implements a state machine where the states are defined
// in the state package.
//
// Sessions
//
// A node is started with a static peer-set (peers.json) and runs one session
// goroutine per peer. On every tick of its control timer, a session asks the
// peer for its tips (GetTips), fetches the ones it does not know, and
// advertises its own tips (Have) so that the peer can do the same. The timer
// runs at the heartbeat rate while there is something to exchange and slows
// down once both sides agree. Newly accepted transactions are also pushed
// (PushTx) to every peer other than the one they came from.
//
// Fetching
//
// Missing transactions are retrieved one hash at a time with GetTx. The
// requester recomputes the hash of the returned transaction; a peer that
// answers with something else is treated as faulty and its connection is
// dropped. A transaction whose parents are unknown is held by the Graph as
// Deferred, and its parents are fetched in turn, down to the genesis if
// necessary. A background job retries the parents of held transactions and
// expires the ones that waited too long.
//
// Submissions
//
// Local and remote transactions go through a single goroutine that owns the
// Graph writes, so that insertions are serialized and the sessions never
// block each other.
package node
