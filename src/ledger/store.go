package ledger

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/mosaicnetworks/dagger/src/common"
)

// Account is the cached state of one public key.
type Account struct {
	PubKey    []byte
	Balance   uint64
	LastNonce uint64
}

// Copy ...
func (a *Account) Copy() *Account {
	res := *a
	res.PubKey = append([]byte(nil), a.PubKey...)
	return &res
}

// ConflictSet gathers the accepted transactions that share a (sender, nonce)
// pair. A set with a single member is not a conflict; it is stored anyway so
// that a later double-spend can find its sibling.
type ConflictSet struct {
	Sender  []byte
	Nonce   uint64
	Members [][]byte //sorted
	Leader  []byte   //member whose effects are applied
	Frozen  bool     //the leader can no longer change
}

// IsConflict reports whether the set holds more than one transaction.
func (c *ConflictSet) IsConflict() bool {
	return len(c.Members) > 1
}

// Key identifies the set by sender and nonce.
func (c *ConflictSet) Key() string {
	return conflictKey(c.Sender, c.Nonce)
}

// HasMember ...
func (c *ConflictSet) HasMember(h Hash) bool {
	for _, m := range c.Members {
		if bytes.Equal(m, h[:]) {
			return true
		}
	}
	return false
}

// LeaderHash returns the leader as a Hash.
func (c *ConflictSet) LeaderHash() Hash {
	h, _ := HashFromBytes(c.Leader)
	return h
}

// Copy ...
func (c *ConflictSet) Copy() *ConflictSet {
	res := &ConflictSet{
		Sender: append([]byte(nil), c.Sender...),
		Nonce:  c.Nonce,
		Leader: append([]byte(nil), c.Leader...),
		Frozen: c.Frozen,
	}
	for _, m := range c.Members {
		res.Members = append(res.Members, append([]byte(nil), m...))
	}
	return res
}

func (c *ConflictSet) addMember(h Hash) {
	if c.HasMember(h) {
		return
	}
	c.Members = append(c.Members, h.Bytes())
	sort.Slice(c.Members, func(i, j int) bool {
		return bytes.Compare(c.Members[i], c.Members[j]) < 0
	})
}

func conflictKey(sender []byte, nonce uint64) string {
	return fmt.Sprintf("%s:%020d", common.EncodeToString(sender), nonce)
}

// Commit groups every write caused by accepting one transaction. Stores apply
// it atomically.
type Commit struct {
	Tx       *Transaction
	Accounts []*Account   //account records changed by the transaction
	Conflict *ConflictSet //the (sender, nonce) set including Tx
}

// WeightBatch adds one to the weight of each ancestor on behalf of
// Descendant, and records Progress, the number of ancestors handled so far.
// When Done is set the progress marker is removed instead.
type WeightBatch struct {
	Descendant Hash
	Ancestors  []Hash
	Progress   int
	Done       bool
}

// Propagation is an unfinished weight propagation found in the store.
type Propagation struct {
	Descendant Hash
	Progress   int
}

// Store persists the transaction graph and the state derived from it.
type Store interface {
	// Put writes the transaction, its children index entries, the tip set
	// update, an initial weight of one, a propagation marker, and the
	// account and conflict records of the commit, all or nothing. It fails
	// with a KeyAlreadyExists StoreErr if the transaction is present.
	Put(c *Commit) error
	Get(hash Hash) (*Transaction, error)
	Has(hash Hash) (bool, error)
	Children(hash Hash) ([]Hash, error)
	Tips() ([]Hash, error)
	Len() int
	// TopologicalTransactions returns up to count transactions in insertion
	// order, starting at index start.
	TopologicalTransactions(start, count int) ([]*Transaction, error)

	Weight(hash Hash) (uint64, error)
	// AddWeight applies the batch atomically and returns the new weight of
	// each ancestor, in batch order.
	AddWeight(batch *WeightBatch) ([]uint64, error)
	PendingPropagations() ([]*Propagation, error)

	Accounts() ([]*Account, error)
	// PutAccounts writes account records. With reset, records that are not
	// in the list are deleted.
	PutAccounts(accounts []*Account, reset bool) error

	ConflictSet(sender []byte, nonce uint64) (*ConflictSet, error)
	// ConflictSets returns the sets with more than one member.
	ConflictSets() ([]*ConflictSet, error)
	PutConflictSets(sets []*ConflictSet) error

	Close() error
	StorePath() string
}
