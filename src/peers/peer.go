package peers

import (
	"strings"

	"github.com/mosaicnetworks/dagger/src/common"
)

// Peer is a dagger node that we sync with. It is reached at NetAddr and
// identified by its public key.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string
}

// NewPeer instantiates a new Peer
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// PubKeyString returns the upper-case version of PubKeyHex. It is used for
// indexing in maps with string keys.
func (p *Peer) PubKeyString() string {
	return strings.ToUpper(p.PubKeyHex)
}

// PubKeyBytes decodes PubKeyHex. An empty or malformed PubKeyHex yields nil.
func (p *Peer) PubKeyBytes() []byte {
	if p.PubKeyHex == "" {
		return nil
	}
	res, err := common.DecodeFromString(p.PubKeyHex)
	if err != nil {
		return nil
	}
	return res
}

// ExcludePeer is used to exclude a single peer, identified by its address,
// from a list of peers.
func ExcludePeer(peers []*Peer, addr string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != addr {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
