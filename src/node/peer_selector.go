package node

import (
	"math/rand"
	"sync"

	"github.com/mosaicnetworks/dagger/src/peers"
)

// PeerSelector chooses which peers to ask for a transaction.
type PeerSelector interface {
	Peers() *peers.PeerSet
	Candidates(preferred string, max int) []string
}

//+++++++++++++++++++++++++++++++++++++++
//RANDOM

// RandomPeerSelector returns the preferred peer first and the others in random
// order.
type RandomPeerSelector struct {
	sync.Mutex
	peers *peers.PeerSet
	rnd   *rand.Rand
}

// NewRandomPeerSelector is a factory method that returns a new instance of
// RandomPeerSelector. The node's own address is excluded.
func NewRandomPeerSelector(peerSet *peers.PeerSet, selfAddr string, seed int64) *RandomPeerSelector {
	return &RandomPeerSelector{
		peers: peerSet.WithoutAddr(selfAddr),
		rnd:   rand.New(rand.NewSource(seed)),
	}
}

// Peers returns a set of peers
func (ps *RandomPeerSelector) Peers() *peers.PeerSet {
	return ps.peers
}

// Candidates returns up to max distinct addresses, starting with preferred
// when it is not empty.
func (ps *RandomPeerSelector) Candidates(preferred string, max int) []string {
	res := []string{}
	if preferred != "" {
		res = append(res, preferred)
	}

	_, others := peers.ExcludePeer(ps.peers.Peers, preferred)

	ps.Lock()
	order := ps.rnd.Perm(len(others))
	ps.Unlock()

	for _, i := range order {
		res = append(res, others[i].NetAddr)
	}

	if max > 0 && len(res) > max {
		res = res[:max]
	}

	return res
}
