package peers

import (
	"bytes"
	"encoding/json"
)

// PeerSet is the static list of peers a node syncs with.
type PeerSet struct {
	Peers    []*Peer          `json:"peers"`
	ByPubKey map[string]*Peer `json:"-"`
	ByAddr   map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByPubKey: make(map[string]*Peer),
		ByAddr:   make(map[string]*Peer),
	}

	for _, peer := range peers {
		if peer.PubKeyHex != "" {
			peerSet.ByPubKey[peer.PubKeyString()] = peer
		}
		peerSet.ByAddr[peer.NetAddr] = peer
	}

	peerSet.Peers = peers

	return peerSet
}

// WithoutAddr returns a new PeerSet that excludes the peer with the given
// address, typically the node itself.
func (peerSet *PeerSet) WithoutAddr(addr string) *PeerSet {
	_, others := ExcludePeer(peerSet.Peers, addr)
	return NewPeerSet(others)
}

// Addrs returns the network addresses of the peers, in order.
func (peerSet *PeerSet) Addrs() []string {
	res := make([]string, 0, len(peerSet.Peers))
	for _, p := range peerSet.Peers {
		res = append(res, p.NetAddr)
	}
	return res
}

// Len returns the number of Peers in the PeerSet
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// Marshal marshals the peerset
func (peerSet *PeerSet) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(peerSet.Peers); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
