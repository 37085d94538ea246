package ledger

import (
	"crypto/ecdsa"
	"testing"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
)

type testAccount struct {
	key *ecdsa.PrivateKey
	pub []byte
}

func newTestAccount(t testing.TB) *testAccount {
	key, err := keys.GenerateECDSAKey()
	if err != nil {
		t.Fatal(err)
	}
	return &testAccount{
		key: key,
		pub: keys.FromPublicKey(&key.PublicKey),
	}
}

// clock hands out increasing timestamps.
type clock struct {
	now int64
}

func (c *clock) next() int64 {
	c.now++
	return c.now
}

func (a *testAccount) newTx(t testing.TB, parents []Hash, nonce uint64, ts int64, payload Payload) *Transaction {
	tx, err := NewTransaction(parents, a.pub, nonce, ts, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Sign(a.key); err != nil {
		t.Fatal(err)
	}
	return tx
}

func testConfig() *Config {
	conf := DefaultConfig()
	conf.FinalityThreshold = 3
	conf.WeightBatchSize = 2
	return conf
}

func newTestGraph(t testing.TB, store Store, conf *Config) *Graph {
	g, err := NewGraph(store, conf, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func mustInsert(t testing.TB, g *Graph, tx *Transaction) *Result {
	res, err := g.Insert(tx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != Accepted {
		t.Fatalf("%s should be Accepted, got %s: %v", tx.Hex(), res.Status, res.Err)
	}
	return res
}

func mustWeight(t testing.TB, g *Graph, h Hash) uint64 {
	w, err := g.Weight(h)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

// genesisTx creates a root that credits amount to the bank account.
func genesisTx(t testing.TB, bank *testAccount, amount uint64, c *clock) *Transaction {
	return bank.newTx(t, nil, 1, c.next(), Genesis{
		Allocations: []Allocation{{Account: bank.pub, Amount: amount}},
	})
}
