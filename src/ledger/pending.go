package ledger

import (
	"bytes"
	"sort"
	"time"
)

type pendingEntry struct {
	tx      *Transaction
	missing map[Hash]bool
	added   time.Time
}

// PendingPool holds Deferred transactions until the parents they wait for
// arrive. Entries are indexed by missing hash so that the arrival of one
// transaction releases exactly the entries waiting on it. The pool is not
// safe for concurrent use; the Graph guards it with its own lock.
type PendingPool struct {
	limit     int
	entries   map[Hash]*pendingEntry
	byMissing map[Hash]map[Hash]bool //missing hash => waiting hashes
	order     []Hash                 //insertion order, for eviction
}

// NewPendingPool creates a pool holding at most limit transactions. A
// non-positive limit means no bound.
func NewPendingPool(limit int) *PendingPool {
	return &PendingPool{
		limit:     limit,
		entries:   make(map[Hash]*pendingEntry),
		byMissing: make(map[Hash]map[Hash]bool),
	}
}

// Add holds tx until every hash in missing has arrived. It returns the
// hashes of the transactions evicted to make room.
func (p *PendingPool) Add(tx *Transaction, missing []Hash, now time.Time) []Hash {
	h := tx.Hash()

	if e, ok := p.entries[h]; ok {
		for _, m := range missing {
			e.missing[m] = true
			p.index(m, h)
		}
		return nil
	}

	var evicted []Hash
	for p.limit > 0 && len(p.entries) >= p.limit && len(p.order) > 0 {
		oldest := p.order[0]
		if p.remove(oldest) != nil {
			evicted = append(evicted, oldest)
		}
	}

	e := &pendingEntry{
		tx:      tx,
		missing: make(map[Hash]bool, len(missing)),
		added:   now,
	}
	for _, m := range missing {
		e.missing[m] = true
		p.index(m, h)
	}
	p.entries[h] = e
	p.order = append(p.order, h)

	return evicted
}

func (p *PendingPool) index(missing, waiting Hash) {
	if p.byMissing[missing] == nil {
		p.byMissing[missing] = make(map[Hash]bool)
	}
	p.byMissing[missing][waiting] = true
}

// Release removes and returns the transactions that were waiting on arrived,
// sorted by sender then nonce so that an account's transactions are validated
// in sequence. They must be validated again: some may still miss other
// parents.
func (p *PendingPool) Release(arrived Hash) []*Transaction {
	waiting, ok := p.byMissing[arrived]
	if !ok {
		return nil
	}

	hashes := make([]Hash, 0, len(waiting))
	for h := range waiting {
		hashes = append(hashes, h)
	}

	res := make([]*Transaction, 0, len(hashes))
	for _, h := range hashes {
		if tx := p.remove(h); tx != nil {
			res = append(res, tx)
		}
	}
	delete(p.byMissing, arrived)

	sort.Slice(res, func(i, j int) bool {
		if c := bytes.Compare(res[i].Sender(), res[j].Sender()); c != 0 {
			return c < 0
		}
		if res[i].Nonce() != res[j].Nonce() {
			return res[i].Nonce() < res[j].Nonce()
		}
		return res[i].Hash().Less(res[j].Hash())
	})

	return res
}

// Transactions returns the held transactions in the order they were added.
func (p *PendingPool) Transactions() []*Transaction {
	res := make([]*Transaction, 0, len(p.order))
	for _, h := range p.order {
		if e, ok := p.entries[h]; ok {
			res = append(res, e.tx)
		}
	}
	return res
}

func (p *PendingPool) remove(h Hash) *Transaction {
	for i, o := range p.order {
		if o == h {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	e, ok := p.entries[h]
	if !ok {
		return nil
	}
	delete(p.entries, h)

	for m := range e.missing {
		if waiting, ok := p.byMissing[m]; ok {
			delete(waiting, h)
			if len(waiting) == 0 {
				delete(p.byMissing, m)
			}
		}
	}

	return e.tx
}

// Has reports whether a transaction is held.
func (p *PendingPool) Has(h Hash) bool {
	_, ok := p.entries[h]
	return ok
}

// Missing returns every hash some held transaction is waiting for, sorted.
func (p *PendingPool) Missing() []Hash {
	res := make([]Hash, 0, len(p.byMissing))
	for m := range p.byMissing {
		res = append(res, m)
	}
	SortHashes(res)
	return res
}

// Expire drops the entries added before the cutoff and returns their hashes.
func (p *PendingPool) Expire(before time.Time) []Hash {
	var expired []Hash
	for _, h := range append([]Hash(nil), p.order...) {
		if e := p.entries[h]; e != nil && e.added.Before(before) {
			p.remove(h)
			expired = append(expired, h)
		}
	}
	return expired
}

// Len ...
func (p *PendingPool) Len() int {
	return len(p.entries)
}
