package ledger

import (
	"sync"

	cm "github.com/mosaicnetworks/dagger/src/common"
)

// InmemStore implements the Store interface with plain maps. Nothing survives
// a restart, so it is meant for tests and throwaway nodes.
type InmemStore struct {
	sync.RWMutex

	txs          map[Hash]*Transaction
	topo         []Hash
	children     map[Hash][]Hash
	tips         map[Hash]struct{}
	weights      map[Hash]uint64
	propagations map[Hash]int
	accounts     map[string]*Account
	conflicts    map[string]*ConflictSet
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		txs:          make(map[Hash]*Transaction),
		children:     make(map[Hash][]Hash),
		tips:         make(map[Hash]struct{}),
		weights:      make(map[Hash]uint64),
		propagations: make(map[Hash]int),
		accounts:     make(map[string]*Account),
		conflicts:    make(map[string]*ConflictSet),
	}
}

// Put implements the Store interface.
func (s *InmemStore) Put(c *Commit) error {
	s.Lock()
	defer s.Unlock()

	h := c.Tx.Hash()

	if _, ok := s.txs[h]; ok {
		return cm.NewStoreErr("Transaction", cm.KeyAlreadyExists, h.String())
	}

	s.txs[h] = c.Tx
	s.topo = append(s.topo, h)

	for _, p := range c.Tx.Parents() {
		s.children[p] = append(s.children[p], h)
		delete(s.tips, p)
	}
	s.tips[h] = struct{}{}

	s.weights[h] = 1
	s.propagations[h] = 0

	for _, a := range c.Accounts {
		s.accounts[string(a.PubKey)] = a.Copy()
	}

	if c.Conflict != nil {
		s.conflicts[c.Conflict.Key()] = c.Conflict.Copy()
	}

	return nil
}

// Get implements the Store interface.
func (s *InmemStore) Get(hash Hash) (*Transaction, error) {
	s.RLock()
	defer s.RUnlock()

	tx, ok := s.txs[hash]
	if !ok {
		return nil, cm.NewStoreErr("Transaction", cm.KeyNotFound, hash.String())
	}
	return tx, nil
}

// Has implements the Store interface.
func (s *InmemStore) Has(hash Hash) (bool, error) {
	s.RLock()
	defer s.RUnlock()

	_, ok := s.txs[hash]
	return ok, nil
}

// Children implements the Store interface.
func (s *InmemStore) Children(hash Hash) ([]Hash, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]Hash, len(s.children[hash]))
	copy(res, s.children[hash])
	SortHashes(res)
	return res, nil
}

// Tips implements the Store interface.
func (s *InmemStore) Tips() ([]Hash, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]Hash, 0, len(s.tips))
	for h := range s.tips {
		res = append(res, h)
	}
	SortHashes(res)
	return res, nil
}

// Len implements the Store interface.
func (s *InmemStore) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.topo)
}

// TopologicalTransactions implements the Store interface.
func (s *InmemStore) TopologicalTransactions(start, count int) ([]*Transaction, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*Transaction{}
	for i := start; i < len(s.topo) && len(res) < count; i++ {
		if i < 0 {
			continue
		}
		res = append(res, s.txs[s.topo[i]])
	}
	return res, nil
}

// Weight implements the Store interface.
func (s *InmemStore) Weight(hash Hash) (uint64, error) {
	s.RLock()
	defer s.RUnlock()

	w, ok := s.weights[hash]
	if !ok {
		return 0, cm.NewStoreErr("Weight", cm.KeyNotFound, hash.String())
	}
	return w, nil
}

// AddWeight implements the Store interface.
func (s *InmemStore) AddWeight(batch *WeightBatch) ([]uint64, error) {
	s.Lock()
	defer s.Unlock()

	for _, a := range batch.Ancestors {
		if _, ok := s.weights[a]; !ok {
			return nil, cm.NewStoreErr("Weight", cm.KeyNotFound, a.String())
		}
	}

	res := make([]uint64, len(batch.Ancestors))
	for i, a := range batch.Ancestors {
		s.weights[a]++
		res[i] = s.weights[a]
	}

	if batch.Done {
		delete(s.propagations, batch.Descendant)
	} else {
		s.propagations[batch.Descendant] = batch.Progress
	}

	return res, nil
}

// PendingPropagations implements the Store interface.
func (s *InmemStore) PendingPropagations() ([]*Propagation, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*Propagation{}
	for _, h := range s.topo {
		if p, ok := s.propagations[h]; ok {
			res = append(res, &Propagation{Descendant: h, Progress: p})
		}
	}
	return res, nil
}

// Accounts implements the Store interface.
func (s *InmemStore) Accounts() ([]*Account, error) {
	s.RLock()
	defer s.RUnlock()

	res := make([]*Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		res = append(res, a.Copy())
	}
	return res, nil
}

// PutAccounts implements the Store interface.
func (s *InmemStore) PutAccounts(accounts []*Account, reset bool) error {
	s.Lock()
	defer s.Unlock()

	if reset {
		s.accounts = make(map[string]*Account)
	}
	for _, a := range accounts {
		s.accounts[string(a.PubKey)] = a.Copy()
	}
	return nil
}

// ConflictSet implements the Store interface.
func (s *InmemStore) ConflictSet(sender []byte, nonce uint64) (*ConflictSet, error) {
	s.RLock()
	defer s.RUnlock()

	key := conflictKey(sender, nonce)
	c, ok := s.conflicts[key]
	if !ok {
		return nil, cm.NewStoreErr("ConflictSet", cm.KeyNotFound, key)
	}
	return c.Copy(), nil
}

// ConflictSets implements the Store interface.
func (s *InmemStore) ConflictSets() ([]*ConflictSet, error) {
	s.RLock()
	defer s.RUnlock()

	res := []*ConflictSet{}
	for _, c := range s.conflicts {
		if c.IsConflict() {
			res = append(res, c.Copy())
		}
	}
	return res, nil
}

// PutConflictSets implements the Store interface.
func (s *InmemStore) PutConflictSets(sets []*ConflictSet) error {
	s.Lock()
	defer s.Unlock()

	for _, c := range sets {
		s.conflicts[c.Key()] = c.Copy()
	}
	return nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
