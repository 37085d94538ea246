package peers

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/dagger/src/crypto/keys"
)

func TestJSONPeerSet(t *testing.T) {
	dir := t.TempDir()

	// Create the store
	store := NewJSONPeerSet(dir)

	// Try a read, should get nothing
	peerSet, err := store.PeerSet()
	if err == nil {
		t.Fatalf("store.PeerSet() should generate an error")
	}
	if peerSet != nil {
		t.Fatalf("peerSet: %v", peerSet)
	}

	pubs := map[string][]byte{}
	peers := []*Peer{}
	for i := 0; i < 3; i++ {
		key, err := keys.GenerateECDSAKey()
		if err != nil {
			t.Fatal(err)
		}
		peer := NewPeer(
			keys.PublicKeyHex(&key.PublicKey),
			fmt.Sprintf("addr%d", i),
			fmt.Sprintf("peer%d", i),
		)
		peers = append(peers, peer)
		pubs[peer.NetAddr] = keys.FromPublicKey(&key.PublicKey)
	}

	newPeerSlice := NewPeerSet(peers).Peers

	if err := store.Write(newPeerSlice); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 peers
	peerSet, err = store.PeerSet()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if peerSet.Len() != 3 {
		t.Fatalf("peers: %v", peers)
	}

	peerSlice := peerSet.Peers

	for i := 0; i < 3; i++ {
		if peerSlice[i].NetAddr != newPeerSlice[i].NetAddr {
			t.Fatalf("peers[%d] NetAddr should be %s, not %s", i,
				newPeerSlice[i].NetAddr, peerSlice[i].NetAddr)
		}
		if peerSlice[i].Moniker != newPeerSlice[i].Moniker {
			t.Fatalf("peers[%d] Moniker should be %s, not %s", i,
				newPeerSlice[i].Moniker, peerSlice[i].Moniker)
		}
		if !reflect.DeepEqual(peerSlice[i].PubKeyBytes(), pubs[peerSlice[i].NetAddr]) {
			t.Fatalf("peers[%d] PublicKey not parsed correctly", i)
		}
	}
}

func TestJSONPeerSetCleansPubKeys(t *testing.T) {
	dir := t.TempDir()

	raw := `[{"NetAddr":"127.0.0.1:1337","PubKeyHex":"0x02abcdef","Moniker":"lower"},{"NetAddr":"127.0.0.1:1338"}]`
	if err := os.WriteFile(filepath.Join(dir, jsonPeerSetPath), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	peerSet, err := NewJSONPeerSet(dir).PeerSet()
	if err != nil {
		t.Fatal(err)
	}

	if got := peerSet.Peers[0].PubKeyHex; got != "0X02ABCDEF" {
		t.Fatalf("PubKeyHex should be 0X02ABCDEF, not %s", got)
	}
	if got := peerSet.Peers[1].PubKeyHex; got != "" {
		t.Fatalf("missing PubKeyHex should stay empty, not %s", got)
	}
	if _, ok := peerSet.ByAddr["127.0.0.1:1338"]; !ok {
		t.Fatal("peer without public key should be indexed by address")
	}
}

func TestPeerSetWithoutAddr(t *testing.T) {
	ps := NewPeerSet([]*Peer{
		NewPeer("", "a", ""),
		NewPeer("", "b", ""),
		NewPeer("", "c", ""),
	})

	others := ps.WithoutAddr("b")

	if !reflect.DeepEqual(others.Addrs(), []string{"a", "c"}) {
		t.Fatalf("addrs: %v", others.Addrs())
	}
	if ps.Len() != 3 {
		t.Fatal("original PeerSet should not change")
	}
}
