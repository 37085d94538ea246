package ledger

import (
	"testing"
	"time"
)

func TestPendingPoolRelease(t *testing.T) {
	alice := newTestAccount(t)
	pool := NewPendingPool(0)

	x, y := Hash{1}, Hash{2}
	a := alice.newTx(t, []Hash{x}, 1, 1, Data{})
	b := alice.newTx(t, []Hash{x, y}, 2, 1, Data{})

	now := time.Now()
	pool.Add(a, []Hash{x}, now)
	pool.Add(b, []Hash{x, y}, now)

	if pool.Len() != 2 {
		t.Fatalf("pool should hold 2 transactions, not %d", pool.Len())
	}

	missing := pool.Missing()
	if len(missing) != 2 {
		t.Fatalf("pool should miss 2 hashes, not %d", len(missing))
	}

	released := pool.Release(x)
	if len(released) != 2 {
		t.Fatalf("x should release both transactions, not %d", len(released))
	}
	if pool.Len() != 0 || len(pool.Missing()) != 0 {
		t.Fatalf("released transactions should leave the pool entirely")
	}

	if released := pool.Release(y); len(released) != 0 {
		t.Fatalf("nothing should wait on y any more")
	}
}

func TestPendingPoolLimit(t *testing.T) {
	alice := newTestAccount(t)
	pool := NewPendingPool(2)

	now := time.Now()
	var txs []*Transaction
	for i := 0; i < 3; i++ {
		tx := alice.newTx(t, []Hash{{byte(i + 1)}}, uint64(i+1), 1, Data{})
		txs = append(txs, tx)
		evicted := pool.Add(tx, []Hash{{byte(i + 1)}}, now)
		if i < 2 && len(evicted) != 0 {
			t.Fatalf("nothing should be evicted below the limit")
		}
		if i == 2 && (len(evicted) != 1 || evicted[0] != txs[0].Hash()) {
			t.Fatalf("the oldest transaction should be evicted")
		}
	}

	if pool.Has(txs[0].Hash()) || !pool.Has(txs[2].Hash()) {
		t.Fatalf("pool should hold the two newest transactions")
	}
	if len(pool.Missing()) != 2 {
		t.Fatalf("the evicted transaction should not be waited for")
	}
}

func TestPendingPoolExpire(t *testing.T) {
	alice := newTestAccount(t)
	pool := NewPendingPool(0)

	start := time.Now()
	old := alice.newTx(t, []Hash{{1}}, 1, 1, Data{})
	recent := alice.newTx(t, []Hash{{2}}, 2, 1, Data{})

	pool.Add(old, []Hash{{1}}, start)
	pool.Add(recent, []Hash{{2}}, start.Add(time.Minute))

	expired := pool.Expire(start.Add(30 * time.Second))
	if len(expired) != 1 || expired[0] != old.Hash() {
		t.Fatalf("only the old transaction should expire")
	}
	if !pool.Has(recent.Hash()) {
		t.Fatalf("the recent transaction should still be held")
	}
}

func TestPendingPoolReleaseOrder(t *testing.T) {
	alice := newTestAccount(t)
	pool := NewPendingPool(0)

	x := Hash{1}
	now := time.Now()

	var added []*Transaction
	for n := uint64(5); n >= 1; n-- {
		tx := alice.newTx(t, []Hash{x}, n, 1, Data{})
		pool.Add(tx, []Hash{x}, now)
		added = append(added, tx)
	}

	held := pool.Transactions()
	for i, tx := range held {
		if tx.Hash() != added[i].Hash() {
			t.Fatalf("held transaction %d should come in insertion order", i)
		}
	}

	released := pool.Release(x)
	if len(released) != 5 {
		t.Fatalf("x should release 5 transactions, not %d", len(released))
	}
	for i, tx := range released {
		if tx.Nonce() != uint64(i+1) {
			t.Fatalf("released transaction %d should have nonce %d, not %d", i, i+1, tx.Nonce())
		}
	}
}
