package ledger

import (
	"bytes"
	"container/heap"
	"math"
	"sort"
	"sync"

	cm "github.com/mosaicnetworks/dagger/src/common"
)

// replayPageSize is the number of transactions read from the store at a time
// when the account state is recomputed.
const replayPageSize = 1000

// AccountState caches the balance and last nonce of every account. It is
// updated by the Graph on each accepted transaction and can be rebuilt from
// the store at any time.
type AccountState struct {
	sync.RWMutex

	store    Store
	accounts map[string]*Account
}

// NewAccountState loads the account records persisted in the store.
func NewAccountState(store Store) (*AccountState, error) {
	s := &AccountState{
		store:    store,
		accounts: make(map[string]*Account),
	}

	accounts, err := store.Accounts()
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		s.accounts[string(a.PubKey)] = a
	}

	return s, nil
}

// BalanceOf returns the balance of an account, zero if it is unknown.
func (s *AccountState) BalanceOf(pub []byte) uint64 {
	s.RLock()
	defer s.RUnlock()

	if a, ok := s.accounts[string(pub)]; ok {
		return a.Balance
	}
	return 0
}

// NonceOf returns the nonce of the last transaction applied for an account.
func (s *AccountState) NonceOf(pub []byte) uint64 {
	s.RLock()
	defer s.RUnlock()

	if a, ok := s.accounts[string(pub)]; ok {
		return a.LastNonce
	}
	return 0
}

// Accounts returns a copy of every account, sorted by public key.
func (s *AccountState) Accounts() []*Account {
	s.RLock()
	defer s.RUnlock()

	res := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		res = append(res, a.Copy())
	}
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].PubKey, res[j].PubKey) < 0
	})
	return res
}

// Supply returns the sum of all balances.
func (s *AccountState) Supply() uint64 {
	s.RLock()
	defer s.RUnlock()

	var total uint64
	for _, a := range s.accounts {
		total += a.Balance
	}
	return total
}

// Effects computes the account records that applying tx would produce,
// without changing the state. The sender's nonce is always consumed; value
// only moves when the sender can cover it and the recipient cannot overflow.
func (s *AccountState) Effects(tx *Transaction) ([]*Account, error) {
	s.RLock()
	defer s.RUnlock()

	return effects(s.accounts, tx)
}

// Commit installs account records computed by Effects. The caller persists
// them first.
func (s *AccountState) Commit(changed []*Account) {
	s.Lock()
	defer s.Unlock()

	for _, a := range changed {
		s.accounts[string(a.PubKey)] = a.Copy()
	}
}

// Apply is Effects followed by Commit, without touching the store.
func (s *AccountState) Apply(tx *Transaction) error {
	changed, err := s.Effects(tx)
	if err != nil {
		return err
	}
	s.Commit(changed)
	return nil
}

// Recompute rebuilds the state by replaying every stored transaction in
// canonical order: topological, with ready transactions taken by timestamp
// then hash. Every node holding the same graph replays it the same way,
// whatever order the transactions arrived in. Transactions for which excluded
// returns true are skipped, and each sender's transactions are applied in
// nonce order, holding back any that come ahead of a gap. The result replaces
// the persisted account records.
func (s *AccountState) Recompute(excluded func(Hash) bool) error {
	order, err := canonicalOrder(s.store)
	if err != nil {
		return err
	}

	accounts := make(map[string]*Account)
	held := make(map[string]map[uint64]*Transaction)

	apply := func(tx *Transaction) error {
		changed, err := effects(accounts, tx)
		if err != nil {
			return err
		}
		for _, a := range changed {
			accounts[string(a.PubKey)] = a
		}
		return nil
	}

	for _, tx := range order {
		if excluded != nil && excluded(tx.Hash()) {
			continue
		}

		sender := string(tx.Sender())
		last := lastNonce(accounts, tx.Sender())

		switch {
		case tx.Nonce() == last+1:
			if err := apply(tx); err != nil {
				return err
			}
			for {
				next, ok := held[sender][lastNonce(accounts, tx.Sender())+1]
				if !ok {
					break
				}
				delete(held[sender], next.Nonce())
				if err := apply(next); err != nil {
					return err
				}
			}
		case tx.Nonce() > last+1:
			if held[sender] == nil {
				held[sender] = make(map[uint64]*Transaction)
			}
			if _, ok := held[sender][tx.Nonce()]; !ok {
				held[sender][tx.Nonce()] = tx
			}
		}
	}

	list := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, a)
	}

	if err := s.store.PutAccounts(list, true); err != nil {
		return err
	}

	s.Lock()
	s.accounts = accounts
	s.Unlock()

	return nil
}

// readyQueue orders transactions whose parents have all been replayed.
type readyQueue []*Transaction

func (q readyQueue) Len() int { return len(q) }

func (q readyQueue) Less(i, j int) bool {
	if q[i].Timestamp() != q[j].Timestamp() {
		return q[i].Timestamp() < q[j].Timestamp()
	}
	return q[i].Hash().Less(q[j].Hash())
}

func (q readyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *readyQueue) Push(x interface{}) { *q = append(*q, x.(*Transaction)) }

func (q *readyQueue) Pop() interface{} {
	old := *q
	n := len(old)
	tx := old[n-1]
	*q = old[:n-1]
	return tx
}

// canonicalOrder sorts the stored transactions with Kahn's algorithm. It only
// depends on the content of the graph.
func canonicalOrder(store Store) ([]*Transaction, error) {
	var all []*Transaction
	for start := 0; ; start += replayPageSize {
		txs, err := store.TopologicalTransactions(start, replayPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, txs...)
		if len(txs) < replayPageSize {
			break
		}
	}

	stored := make(map[Hash]bool, len(all))
	for _, tx := range all {
		stored[tx.Hash()] = true
	}

	indegree := make(map[Hash]int, len(all))
	children := make(map[Hash][]*Transaction)
	ready := &readyQueue{}

	for _, tx := range all {
		n := 0
		for _, p := range tx.Parents() {
			if stored[p] {
				n++
				children[p] = append(children[p], tx)
			}
		}
		indegree[tx.Hash()] = n
		if n == 0 {
			heap.Push(ready, tx)
		}
	}

	res := make([]*Transaction, 0, len(all))
	for ready.Len() > 0 {
		tx := heap.Pop(ready).(*Transaction)
		res = append(res, tx)

		for _, c := range children[tx.Hash()] {
			indegree[c.Hash()]--
			if indegree[c.Hash()] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(res) != len(all) {
		return nil, cm.NewStoreErr("Transaction", cm.Corrupted, "cycle in stored graph")
	}

	return res, nil
}

func lastNonce(accounts map[string]*Account, pub []byte) uint64 {
	if a, ok := accounts[string(pub)]; ok {
		return a.LastNonce
	}
	return 0
}

func effects(accounts map[string]*Account, tx *Transaction) ([]*Account, error) {
	working := make(map[string]*Account)
	get := func(pub []byte) *Account {
		if a, ok := working[string(pub)]; ok {
			return a
		}
		var a *Account
		if cur, ok := accounts[string(pub)]; ok {
			a = cur.Copy()
		} else {
			a = &Account{PubKey: append([]byte(nil), pub...)}
		}
		working[string(pub)] = a
		return a
	}

	payload, err := tx.Payload()
	if err != nil {
		return nil, NewValidationError(Malformed, tx.Hash(), "payload: %v", err)
	}

	sender := get(tx.Sender())
	sender.LastNonce = tx.Nonce()

	switch p := payload.(type) {
	case Transfer:
		if bytes.Equal(p.Recipient, tx.Sender()) {
			break
		}
		recipient := get(p.Recipient)
		if sender.Balance >= p.Amount && recipient.Balance <= math.MaxUint64-p.Amount {
			sender.Balance -= p.Amount
			recipient.Balance += p.Amount
		}
	case Data:
	case Genesis:
		for _, alloc := range p.Allocations {
			a := get(alloc.Account)
			if a.Balance <= math.MaxUint64-alloc.Amount {
				a.Balance += alloc.Amount
			}
		}
	}

	res := make([]*Account, 0, len(working))
	for _, a := range working {
		res = append(res, a)
	}
	sort.Slice(res, func(i, j int) bool {
		return bytes.Compare(res[i].PubKey, res[j].PubKey) < 0
	})
	return res, nil
}
