package node

import (
	"crypto/ecdsa"
	"fmt"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/mosaicnetworks/dagger/src/peers"
)

type account struct {
	key *ecdsa.PrivateKey
	pub []byte
}

func newAccount(t testing.TB) *account {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return &account{key: key, pub: keys.FromPublicKey(&key.PublicKey)}
}

func (a *account) tx(t testing.TB, parents []ledger.Hash, nonce uint64, payload ledger.Payload) *ledger.Transaction {
	tx, err := ledger.NewTransaction(parents, a.pub, nonce, time.Now().UnixNano(), payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Sign(a.key); err != nil {
		t.Fatal(err)
	}
	return tx
}

func (a *account) genesis(t testing.TB, amount uint64) *ledger.Transaction {
	return a.tx(t, nil, 1, ledger.Genesis{
		Allocations: []ledger.Allocation{{Account: a.pub, Amount: amount}},
	})
}

func testConfig(t testing.TB) *config.Config {
	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.HeartbeatTimeout = 10 * time.Millisecond
	conf.SlowHeartbeatTimeout = 50 * time.Millisecond
	conf.FinalityThreshold = 3
	conf.SweepInterval = 100 * time.Millisecond
	conf.SyncRetries = 3
	conf.Moniker = t.Name()
	return conf
}

// initNodes creates n nodes connected through in-memory transports. The nodes
// are neither initialized nor running, and are shut down by the test
// cleanup.
func initNodes(t *testing.T, n int) []*Node {
	transports := make([]*net.InmemTransport, n)
	pirs := make([]*peers.Peer, n)
	for i := 0; i < n; i++ {
		addr, trans := net.NewInmemTransport("")
		transports[i] = trans
		pirs[i] = peers.NewPeer("", addr, fmt.Sprintf("node%d", i))
	}

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				transports[i].Connect(transports[j].LocalAddr(), transports[j])
			}
		}
	}

	peerSet := peers.NewPeerSet(pirs)

	nodes := make([]*Node, n)
	for i := 0; i < n; i++ {
		node, err := NewNode(testConfig(t), ledger.NewInmemStore(), peerSet, transports[i])
		if err != nil {
			t.Fatal(err)
		}
		nodes[i] = node
		t.Cleanup(node.Shutdown)
	}

	return nodes
}

func runNodes(nodes []*Node) {
	for _, n := range nodes {
		n.RunAsync()
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func allHave(nodes []*Node, count int) func() bool {
	return func() bool {
		for _, n := range nodes {
			if n.graph.Len() != count {
				return false
			}
		}
		return true
	}
}

func mustSubmit(t *testing.T, n *Node, tx *ledger.Transaction) {
	t.Helper()
	if _, err := n.Submit(tx); err != nil {
		t.Fatalf("submitting %s: %v", tx.Hex(), err)
	}
}

func checkSameTips(t *testing.T, nodes []*Node) {
	t.Helper()
	ref, err := nodes[0].Tips()
	if err != nil {
		t.Fatal(err)
	}
	for i, n := range nodes[1:] {
		tips, err := n.Tips()
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(tips) != fmt.Sprint(ref) {
			t.Fatalf("node %d tips %v, node 0 tips %v", i+1, tips, ref)
		}
	}
}

func TestSyncPropagatesSubmissions(t *testing.T) {
	nodes := initNodes(t, 3)

	bank := newAccount(t)
	r := newAccount(t)
	q := newAccount(t)

	g := bank.genesis(t, 1000)
	for _, n := range nodes {
		if err := n.Init(g); err != nil {
			t.Fatal(err)
		}
	}
	runNodes(nodes)

	b := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Transfer{Recipient: r.pub, Amount: 10})
	mustSubmit(t, nodes[0], b)
	c := bank.tx(t, []ledger.Hash{b.Hash()}, 3, ledger.Transfer{Recipient: r.pub, Amount: 5})
	mustSubmit(t, nodes[0], c)

	waitFor(t, 5*time.Second, "b and c to reach every node", allHave(nodes, 3))

	d := q.tx(t, []ledger.Hash{c.Hash()}, 1, ledger.Data{Bytes: []byte("hello")})
	mustSubmit(t, nodes[2], d)

	waitFor(t, 5*time.Second, "d to reach every node", allHave(nodes, 4))

	for i, n := range nodes {
		if bal := n.BalanceOf(r.pub); bal != 15 {
			t.Fatalf("node %d: balance of r should be 15, not %d", i, bal)
		}
		if bal := n.BalanceOf(bank.pub); bal != 985 {
			t.Fatalf("node %d: balance of bank should be 985, not %d", i, bal)
		}
		if nonce := n.NonceOf(q.pub); nonce != 1 {
			t.Fatalf("node %d: nonce of q should be 1, not %d", i, nonce)
		}
	}

	checkSameTips(t, nodes)
}

func TestCatchUpFromEmptyStore(t *testing.T) {
	nodes := initNodes(t, 2)

	bank := newAccount(t)
	r := newAccount(t)

	g := bank.genesis(t, 1000)
	if err := nodes[0].Init(g); err != nil {
		t.Fatal(err)
	}
	if err := nodes[1].Init(nil); err != nil {
		t.Fatal(err)
	}

	// node0 builds some history before node1 starts
	nodes[0].RunAsync()
	parent := g.Hash()
	for nonce := uint64(2); nonce <= 6; nonce++ {
		tx := bank.tx(t, []ledger.Hash{parent}, nonce, ledger.Transfer{Recipient: r.pub, Amount: 1})
		mustSubmit(t, nodes[0], tx)
		parent = tx.Hash()
	}

	nodes[1].RunAsync()

	waitFor(t, 5*time.Second, "node1 to catch up", allHave(nodes, 6))

	if bal := nodes[1].BalanceOf(r.pub); bal != 5 {
		t.Fatalf("balance of r should be 5, not %d", bal)
	}
	if nonce := nodes[1].NonceOf(bank.pub); nonce != 6 {
		t.Fatalf("nonce of bank should be 6, not %d", nonce)
	}

	checkSameTips(t, nodes)
}

func TestConflictConvergence(t *testing.T) {
	nodes := initNodes(t, 2)

	bank := newAccount(t)
	r1 := newAccount(t)
	r2 := newAccount(t)
	q := newAccount(t)

	g := bank.genesis(t, 1000)
	for _, n := range nodes {
		if err := n.Init(g); err != nil {
			t.Fatal(err)
		}
	}
	runNodes(nodes)

	c1 := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Transfer{Recipient: r1.pub, Amount: 100})
	c2 := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Transfer{Recipient: r2.pub, Amount: 200})

	// each node sees a different spend first
	mustSubmit(t, nodes[0], c1)
	mustSubmit(t, nodes[1], c2)

	waitFor(t, 5*time.Second, "both spends on both nodes", allHave(nodes, 3))

	for i, n := range nodes {
		if _, ok := n.Conflict(c1.Hash()); !ok {
			t.Fatalf("node %d should know c1 is in conflict", i)
		}
	}

	parent := c1.Hash()
	for nonce := uint64(1); nonce <= 3; nonce++ {
		tx := q.tx(t, []ledger.Hash{parent}, nonce, ledger.Data{})
		mustSubmit(t, nodes[0], tx)
		parent = tx.Hash()
	}

	waitFor(t, 5*time.Second, "c1 to be confirmed everywhere", func() bool {
		for _, n := range nodes {
			ok, err := n.IsConfirmed(c1.Hash())
			if err != nil || !ok {
				return false
			}
		}
		return true
	})

	for i, n := range nodes {
		if ok, _ := n.IsConfirmed(c2.Hash()); ok {
			t.Fatalf("node %d: c2 should not be confirmed", i)
		}
		set, _ := n.Conflict(c2.Hash())
		if !set.Frozen || set.LeaderHash() != c1.Hash() {
			t.Fatalf("node %d: conflict should be frozen on c1", i)
		}
		if bal := n.BalanceOf(r1.pub); bal != 100 {
			t.Fatalf("node %d: balance of r1 should be 100, not %d", i, bal)
		}
		if bal := n.BalanceOf(r2.pub); bal != 0 {
			t.Fatalf("node %d: balance of r2 should be 0, not %d", i, bal)
		}
		if bal := n.BalanceOf(bank.pub); bal != 900 {
			t.Fatalf("node %d: balance of bank should be 900, not %d", i, bal)
		}
	}
}

func TestSubmitMissingParent(t *testing.T) {
	nodes := initNodes(t, 1)
	n := nodes[0]

	bank := newAccount(t)
	g := bank.genesis(t, 1000)
	if err := n.Init(g); err != nil {
		t.Fatal(err)
	}
	n.RunAsync()

	unknownParent := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})
	orphan := bank.tx(t, []ledger.Hash{unknownParent.Hash()}, 3, ledger.Data{})

	h, err := n.Submit(orphan)
	if h != orphan.Hash() {
		t.Fatalf("Submit should return the hash of the transaction")
	}
	if !ledger.IsValidation(err, ledger.MissingParent) {
		t.Fatalf("expected MissingParent, got %v", err)
	}
	if !n.IsPending(orphan.Hash()) {
		t.Fatal("orphan should be held as pending")
	}

	// the parent releases it
	mustSubmit(t, n, unknownParent)
	waitFor(t, time.Second, "orphan to be promoted", func() bool {
		has, _ := n.graph.Has(orphan.Hash())
		return has
	})
	if n.IsPending(orphan.Hash()) {
		t.Fatal("orphan should no longer be pending")
	}
}

func TestSubmitRejected(t *testing.T) {
	nodes := initNodes(t, 1)
	n := nodes[0]

	bank := newAccount(t)
	r := newAccount(t)
	g := bank.genesis(t, 1000)
	if err := n.Init(g); err != nil {
		t.Fatal(err)
	}
	n.RunAsync()

	skipped := bank.tx(t, []ledger.Hash{g.Hash()}, 5, ledger.Data{})
	if _, err := n.Submit(skipped); !ledger.IsValidation(err, ledger.InvalidNonce) {
		t.Fatalf("expected InvalidNonce, got %v", err)
	}

	broke := r.tx(t, []ledger.Hash{g.Hash()}, 1, ledger.Transfer{Recipient: bank.pub, Amount: 1})
	if _, err := n.Submit(broke); !ledger.IsValidation(err, ledger.InsufficientBalance) {
		t.Fatalf("expected InsufficientBalance, got %v", err)
	}

	if n.graph.Len() != 1 {
		t.Fatalf("rejected transactions should not be stored")
	}
	if stats := n.GetStats(); stats["rejected"] != "2" {
		t.Fatalf("stats should count 2 rejections, got %s", stats["rejected"])
	}
}

func TestInitGenesisMismatch(t *testing.T) {
	nodes := initNodes(t, 1)
	n := nodes[0]

	bank := newAccount(t)
	if err := n.Init(bank.genesis(t, 1000)); err != nil {
		t.Fatal(err)
	}

	other := newAccount(t)
	if err := n.Init(other.genesis(t, 1000)); err == nil {
		t.Fatal("Init should refuse a graph that does not start with the genesis")
	}
}

func TestShutdownUnblocksSubmit(t *testing.T) {
	nodes := initNodes(t, 1)
	n := nodes[0]

	bank := newAccount(t)
	g := bank.genesis(t, 1000)
	if err := n.Init(g); err != nil {
		t.Fatal(err)
	}

	// not running: nothing consumes submissions
	n.Shutdown()

	tx := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})
	if _, err := n.Submit(tx); err != ErrShutdown {
		t.Fatalf("expected ErrShutdown, got %v", err)
	}
}
