package ledger

import (
	"fmt"
	"sync"
	"time"

	cm "github.com/mosaicnetworks/dagger/src/common"
	"github.com/sirupsen/logrus"
)

// Result describes what Graph.Insert did with a transaction.
type Result struct {
	Hash      Hash
	Status    Status
	Err       *ValidationError
	Missing   []Hash //parents still unknown when Deferred
	Duplicate bool   //the transaction was already in the store
	Conflict  bool   //the transaction double-spends an accepted one
	// Promoted lists the Deferred transactions that were accepted as a
	// consequence of this insertion, in the order they were inserted.
	Promoted []*Transaction
	// Evicted lists the Deferred transactions dropped to make room in the
	// pending pool.
	Evicted []Hash
}

// Stats is a snapshot of the graph counters.
type Stats struct {
	Transactions      int
	Tips              int
	Pending           int
	Conflicts         int
	FrozenConflicts   int
	AboveThreshold    int
	Accounts          int
	Supply            uint64
	FinalityThreshold uint64
}

// Graph is the ledger engine. It validates and inserts transactions,
// propagates weight to their ancestors, arbitrates double-spends and keeps the
// account state in step. Writes are serialized by the Graph lock.
type Graph struct {
	sync.RWMutex

	store     Store
	conf      *Config
	accounts  *AccountState
	validator *Validator
	pending   *PendingPool

	conflicts      map[string]*ConflictSet //sets with more than one member
	memberOf       map[Hash]string         //member hash => conflict key
	aboveThreshold int

	logger *logrus.Entry
}

// NewGraph loads a Graph from the store. Unfinished weight propagations are
// completed and the account state is recomputed, so that the Graph is
// consistent even if the previous run crashed in the middle of an insertion.
func NewGraph(store Store, conf *Config, logger *logrus.Entry) (*Graph, error) {
	if conf == nil {
		conf = DefaultConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	accounts, err := NewAccountState(store)
	if err != nil {
		return nil, err
	}

	g := &Graph{
		store:     store,
		conf:      conf,
		accounts:  accounts,
		validator: NewValidator(store, accounts, conf.MaxParents),
		pending:   NewPendingPool(conf.PendingLimit),
		conflicts: make(map[string]*ConflictSet),
		memberOf:  make(map[Hash]string),
		logger:    logger,
	}

	sets, err := store.ConflictSets()
	if err != nil {
		return nil, err
	}
	for _, set := range sets {
		g.trackConflict(set)
	}

	if store.Len() > 0 {
		if err := g.load(); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (g *Graph) load() error {
	g.Lock()
	defer g.Unlock()

	if err := g.resume(); err != nil {
		return err
	}

	if err := g.countAboveThreshold(); err != nil {
		return err
	}

	if err := g.recompute(); err != nil {
		return err
	}

	g.logger.WithFields(logrus.Fields{
		"transactions": g.store.Len(),
		"conflicts":    len(g.conflicts),
	}).Debug("Graph loaded")

	return nil
}

/*******************************************************************************
Insertion
*******************************************************************************/

// Insert validates tx and adds it to the graph if it is valid. Inserting a
// transaction that is already stored is a no-op. A transaction with unknown
// parents is held in the pending pool and inserted automatically when they
// arrive; the accepted insertion that releases it reports it in Promoted.
//
// The returned error is only set when the store fails, in which case the
// Graph should not be used any more.
func (g *Graph) Insert(tx *Transaction) (*Result, error) {
	g.Lock()
	defer g.Unlock()

	res, err := g.insert(tx)
	if err != nil || res.Status != Accepted || res.Duplicate {
		return res, err
	}

	var (
		queue = []Hash{res.Hash}
		retry []*Transaction
	)

	// A nonce gap or a missing credit may be filled by another transaction of
	// the same cascade. Those rejections are retried until the cascade stops
	// accepting anything.
	promote := func(waiting *Transaction) error {
		r, err := g.insert(waiting)
		if err != nil {
			return err
		}

		switch r.Status {
		case Accepted:
			if !r.Duplicate {
				res.Promoted = append(res.Promoted, waiting)
				queue = append(queue, r.Hash)
			}
		case Deferred:
			res.Evicted = append(res.Evicted, r.Evicted...)
		case Rejected:
			if r.Err != nil && (r.Err.Kind == InvalidNonce || r.Err.Kind == InsufficientBalance) {
				retry = append(retry, waiting)
				break
			}
			g.logger.WithFields(logrus.Fields{
				"hash":  r.Hash,
				"error": r.Err,
			}).Debug("Released transaction rejected")
		}
		return nil
	}

	for len(queue) > 0 {
		for len(queue) > 0 {
			arrived := queue[0]
			queue = queue[1:]

			for _, waiting := range g.pending.Release(arrived) {
				if err := promote(waiting); err != nil {
					return res, err
				}
			}
		}

		again := retry
		retry = nil
		for _, waiting := range again {
			if err := promote(waiting); err != nil {
				return res, err
			}
		}
		if len(queue) == 0 {
			for _, waiting := range retry {
				g.logger.WithField("hash", waiting.Hash()).Debug("Released transaction rejected")
			}
		}
	}

	return res, nil
}

func (g *Graph) insert(tx *Transaction) (*Result, error) {
	h := tx.Hash()

	has, err := g.store.Has(h)
	if err != nil {
		return nil, err
	}
	if has {
		return &Result{Hash: h, Status: Accepted, Duplicate: true}, nil
	}

	verdict, err := g.validator.Validate(tx)
	if err != nil {
		return nil, err
	}

	switch verdict.Status {
	case Deferred:
		evicted := g.pending.Add(tx, verdict.Missing, time.Now())
		g.logger.WithFields(logrus.Fields{
			"hash":    h,
			"missing": len(verdict.Missing),
			"pending": g.pending.Len(),
		}).Debug("Transaction deferred")
		return &Result{
			Hash:    h,
			Status:  Deferred,
			Err:     verdict.Err,
			Missing: verdict.Missing,
			Evicted: evicted,
		}, nil
	case Rejected:
		return &Result{
			Hash:   h,
			Status: Rejected,
			Err:    verdict.Err,
		}, nil
	}

	commit := &Commit{Tx: tx}

	if verdict.Conflict != nil {
		commit.Conflict = verdict.Conflict.Copy()
		commit.Conflict.addMember(h)
	} else {
		changed, err := g.accounts.Effects(tx)
		if err != nil {
			return nil, err
		}
		commit.Accounts = changed
		commit.Conflict = &ConflictSet{
			Sender:  tx.Sender(),
			Nonce:   tx.Nonce(),
			Members: [][]byte{h.Bytes()},
			Leader:  h.Bytes(),
		}
	}

	if err := g.store.Put(commit); err != nil {
		if cm.IsStore(err, cm.KeyAlreadyExists) {
			return &Result{Hash: h, Status: Accepted, Duplicate: true}, nil
		}
		return nil, err
	}

	if verdict.Conflict == nil {
		g.accounts.Commit(commit.Accounts)
	} else {
		g.trackConflict(commit.Conflict)
		g.logger.WithFields(logrus.Fields{
			"hash":    h,
			"sender":  tx.SenderHex(),
			"nonce":   tx.Nonce(),
			"members": len(commit.Conflict.Members),
		}).Info("Double-spend detected")
	}

	//a new transaction weighs 1
	if g.conf.FinalityThreshold == 0 {
		g.aboveThreshold++
	}

	touched, err := g.propagate(h, 0)
	if err != nil {
		return nil, err
	}
	if verdict.Conflict != nil {
		touched[commit.Conflict.Key()] = true
	}

	if err := g.resolve(touched); err != nil {
		return nil, err
	}

	g.logger.WithFields(logrus.Fields{
		"hash":   h,
		"sender": tx.SenderHex(),
		"nonce":  tx.Nonce(),
	}).Debug("Transaction inserted")

	return &Result{
		Hash:     h,
		Status:   Accepted,
		Conflict: verdict.Conflict != nil,
	}, nil
}

/*******************************************************************************
Weight propagation
*******************************************************************************/

// ancestors lists every transaction reachable from h through parent edges,
// each once, in breadth-first order. The order only depends on the graph, so
// an interrupted propagation can be resumed from an index.
func (g *Graph) ancestors(h Hash) ([]Hash, error) {
	tx, err := g.store.Get(h)
	if err != nil {
		return nil, err
	}

	visited := make(map[Hash]bool)
	queue := tx.Parents()
	res := []Hash{}

	for len(queue) > 0 {
		a := queue[0]
		queue = queue[1:]

		if visited[a] {
			continue
		}
		visited[a] = true
		res = append(res, a)

		parent, err := g.store.Get(a)
		if err != nil {
			return nil, err
		}
		for _, p := range parent.Parents() {
			if !visited[p] {
				queue = append(queue, p)
			}
		}
	}

	return res, nil
}

// propagate adds one to the weight of every ancestor of h, starting at the
// given index of the ancestor list, and returns the keys of the conflict sets
// whose members gained weight.
func (g *Graph) propagate(h Hash, progress int) (map[string]bool, error) {
	touched := make(map[string]bool)

	ancestors, err := g.ancestors(h)
	if err != nil {
		return nil, err
	}

	batchSize := g.conf.WeightBatchSize
	if batchSize <= 0 {
		batchSize = DefaultWeightBatchSize
	}

	if progress >= len(ancestors) {
		_, err := g.store.AddWeight(&WeightBatch{Descendant: h, Progress: progress, Done: true})
		return touched, err
	}

	for start := progress; start < len(ancestors); start += batchSize {
		end := start + batchSize
		if end > len(ancestors) {
			end = len(ancestors)
		}

		batch := &WeightBatch{
			Descendant: h,
			Ancestors:  ancestors[start:end],
			Progress:   end,
			Done:       end == len(ancestors),
		}

		weights, err := g.store.AddWeight(batch)
		if err != nil {
			return nil, err
		}

		for i, w := range weights {
			a := batch.Ancestors[i]
			if w == g.conf.FinalityThreshold+1 {
				g.aboveThreshold++
			}
			if key, ok := g.memberOf[a]; ok {
				touched[key] = true
			}
		}
	}

	return touched, nil
}

// resume completes the propagations left unfinished by a crash.
func (g *Graph) resume() error {
	props, err := g.store.PendingPropagations()
	if err != nil {
		return err
	}

	touched := make(map[string]bool)
	for _, p := range props {
		g.logger.WithFields(logrus.Fields{
			"hash":     p.Descendant,
			"progress": p.Progress,
		}).Info("Resuming weight propagation")

		t, err := g.propagate(p.Descendant, p.Progress)
		if err != nil {
			return err
		}
		for k := range t {
			touched[k] = true
		}
	}

	_, err = g.resolveSets(touched)
	return err
}

func (g *Graph) countAboveThreshold() error {
	g.aboveThreshold = 0
	for start := 0; ; start += replayPageSize {
		txs, err := g.store.TopologicalTransactions(start, replayPageSize)
		if err != nil {
			return err
		}
		for _, tx := range txs {
			w, err := g.store.Weight(tx.Hash())
			if err != nil {
				return err
			}
			if w > g.conf.FinalityThreshold {
				g.aboveThreshold++
			}
		}
		if len(txs) < replayPageSize {
			return nil
		}
	}
}

/*******************************************************************************
Conflict resolution
*******************************************************************************/

func (g *Graph) trackConflict(set *ConflictSet) {
	if !set.IsConflict() {
		return
	}
	key := set.Key()
	g.conflicts[key] = set
	for _, m := range set.Members {
		h, err := HashFromBytes(m)
		if err != nil {
			continue
		}
		g.memberOf[h] = key
	}
}

// resolve re-evaluates the touched conflict sets and replays the account
// state if any leader changed.
func (g *Graph) resolve(touched map[string]bool) error {
	flipped, err := g.resolveSets(touched)
	if err != nil {
		return err
	}
	if flipped {
		return g.recompute()
	}
	return nil
}

func (g *Graph) resolveSets(touched map[string]bool) (bool, error) {
	var (
		changed []*ConflictSet
		flipped bool
	)

	for key := range touched {
		set, ok := g.conflicts[key]
		if !ok {
			continue
		}

		oldLeader := set.LeaderHash()
		oldFrozen := set.Frozen

		if err := g.elect(set); err != nil {
			return false, err
		}

		if set.LeaderHash() != oldLeader {
			flipped = true
			g.logger.WithFields(logrus.Fields{
				"sender": cm.EncodeToString(set.Sender),
				"nonce":  set.Nonce,
				"from":   oldLeader,
				"to":     set.LeaderHash(),
			}).Info("Conflict leader changed")
		}

		if set.Frozen != oldFrozen || set.LeaderHash() != oldLeader {
			changed = append(changed, set)
		}
	}

	if len(changed) > 0 {
		if err := g.store.PutConflictSets(changed); err != nil {
			return false, err
		}
	}

	return flipped, nil
}

// elect picks the member with the highest weight, the smaller hash winning a
// tie, and freezes the set once its leader exceeds the finality threshold. A
// frozen set never changes.
func (g *Graph) elect(set *ConflictSet) error {
	if set.Frozen {
		return nil
	}

	if len(set.Leader) > 0 {
		w, err := g.store.Weight(set.LeaderHash())
		if err != nil {
			return err
		}
		if w > g.conf.FinalityThreshold {
			set.Frozen = true
			return nil
		}
	}

	var (
		best       Hash
		bestWeight uint64
		found      bool
	)

	for _, m := range set.Members {
		h, err := HashFromBytes(m)
		if err != nil {
			return cm.NewStoreErr("ConflictSet", cm.Corrupted, set.Key())
		}
		w, err := g.store.Weight(h)
		if err != nil {
			return err
		}
		if !found || w > bestWeight || (w == bestWeight && h.Less(best)) {
			best, bestWeight, found = h, w, true
		}
	}

	if !found {
		return nil
	}

	set.Leader = best.Bytes()
	if bestWeight > g.conf.FinalityThreshold {
		set.Frozen = true
	}

	return nil
}

// excluded reports whether h lost a conflict, so that its effects must not
// reach the account state.
func (g *Graph) excluded(h Hash) bool {
	key, ok := g.memberOf[h]
	if !ok {
		return false
	}
	return g.conflicts[key].LeaderHash() != h
}

func (g *Graph) recompute() error {
	start := time.Now()
	if err := g.accounts.Recompute(g.excluded); err != nil {
		return err
	}
	g.logger.WithFields(logrus.Fields{
		"transactions": g.store.Len(),
		"duration":     time.Since(start),
	}).Debug("Account state recomputed")
	return nil
}

// Recompute rebuilds the account state from the stored transactions.
func (g *Graph) Recompute() error {
	g.Lock()
	defer g.Unlock()

	return g.recompute()
}

/*******************************************************************************
Pending pool
*******************************************************************************/

// PendingMissing returns the hashes that Deferred transactions are waiting
// for and that are still unknown.
func (g *Graph) PendingMissing() []Hash {
	g.RLock()
	defer g.RUnlock()

	return g.pending.Missing()
}

// ExpirePending drops the Deferred transactions held for longer than the
// configured TTL.
func (g *Graph) ExpirePending(now time.Time) []Hash {
	g.Lock()
	defer g.Unlock()

	expired := g.pending.Expire(now.Add(-g.conf.PendingTTL))
	if len(expired) > 0 {
		g.logger.WithField("expired", len(expired)).Debug("Pending transactions expired")
	}
	return expired
}

// Pending returns the Deferred transactions in the order they were held.
func (g *Graph) Pending() []*Transaction {
	g.RLock()
	defer g.RUnlock()

	return g.pending.Transactions()
}

// IsPending reports whether h is held in the pending pool.
func (g *Graph) IsPending(h Hash) bool {
	g.RLock()
	defer g.RUnlock()

	return g.pending.Has(h)
}

/*******************************************************************************
Queries
*******************************************************************************/

// Get returns a stored transaction.
func (g *Graph) Get(h Hash) (*Transaction, error) {
	return g.store.Get(h)
}

// Has reports whether a transaction is stored.
func (g *Graph) Has(h Hash) (bool, error) {
	return g.store.Has(h)
}

// Known reports whether a transaction is stored or held as Deferred.
func (g *Graph) Known(h Hash) (bool, error) {
	if g.IsPending(h) {
		return true, nil
	}
	return g.store.Has(h)
}

// Tips returns the transactions that have no children, sorted.
func (g *Graph) Tips() ([]Hash, error) {
	return g.store.Tips()
}

// Children returns the transactions that reference h directly.
func (g *Graph) Children(h Hash) ([]Hash, error) {
	return g.store.Children(h)
}

// Weight returns one plus the number of transactions that approve h,
// directly or transitively.
func (g *Graph) Weight(h Hash) (uint64, error) {
	return g.store.Weight(h)
}

// Len returns the number of stored transactions.
func (g *Graph) Len() int {
	return g.store.Len()
}

// BalanceOf ...
func (g *Graph) BalanceOf(pub []byte) uint64 {
	return g.accounts.BalanceOf(pub)
}

// NonceOf ...
func (g *Graph) NonceOf(pub []byte) uint64 {
	return g.accounts.NonceOf(pub)
}

// Accounts returns every known account.
func (g *Graph) Accounts() []*Account {
	return g.accounts.Accounts()
}

// IsConfirmed reports whether the weight of h exceeds the finality threshold
// and, if h double-spends another transaction, whether h won the frozen
// conflict. Once true it stays true.
func (g *Graph) IsConfirmed(h Hash) (bool, error) {
	g.RLock()
	defer g.RUnlock()

	w, err := g.store.Weight(h)
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return false, nil
		}
		return false, err
	}

	if w <= g.conf.FinalityThreshold {
		return false, nil
	}

	key, ok := g.memberOf[h]
	if !ok {
		return true, nil
	}

	set := g.conflicts[key]
	return set.Frozen && set.LeaderHash() == h, nil
}

// Conflict returns a copy of the conflict set h belongs to, if any.
func (g *Graph) Conflict(h Hash) (*ConflictSet, bool) {
	g.RLock()
	defer g.RUnlock()

	key, ok := g.memberOf[h]
	if !ok {
		return nil, false
	}
	return g.conflicts[key].Copy(), true
}

// Transactions returns up to limit transactions in insertion order, starting
// at offset.
func (g *Graph) Transactions(offset, limit int) ([]*Transaction, error) {
	return g.store.TopologicalTransactions(offset, limit)
}

// Stats ...
func (g *Graph) Stats() (*Stats, error) {
	g.RLock()
	defer g.RUnlock()

	tips, err := g.store.Tips()
	if err != nil {
		return nil, err
	}

	frozen := 0
	for _, set := range g.conflicts {
		if set.Frozen {
			frozen++
		}
	}

	return &Stats{
		Transactions:      g.store.Len(),
		Tips:              len(tips),
		Pending:           g.pending.Len(),
		Conflicts:         len(g.conflicts),
		FrozenConflicts:   frozen,
		AboveThreshold:    g.aboveThreshold,
		Accounts:          len(g.accounts.Accounts()),
		Supply:            g.accounts.Supply(),
		FinalityThreshold: g.conf.FinalityThreshold,
	}, nil
}

// Verify walks the whole store and checks that every parent was inserted
// before its child, which rules out cycles and dangling references, and that
// the tip set is exactly the set of childless transactions.
func (g *Graph) Verify() error {
	g.RLock()
	defer g.RUnlock()

	position := make(map[Hash]int)
	hasChild := make(map[Hash]bool)

	for start := 0; ; start += replayPageSize {
		txs, err := g.store.TopologicalTransactions(start, replayPageSize)
		if err != nil {
			return err
		}

		for i, tx := range txs {
			h := tx.Hash()
			for _, p := range tx.Parents() {
				if _, ok := position[p]; !ok {
					return fmt.Errorf("transaction %s references %s which is not stored before it", h, p)
				}
				hasChild[p] = true
			}
			position[h] = start + i
		}

		if len(txs) < replayPageSize {
			break
		}
	}

	tips, err := g.store.Tips()
	if err != nil {
		return err
	}

	tipSet := make(map[Hash]bool, len(tips))
	for _, t := range tips {
		if _, ok := position[t]; !ok {
			return fmt.Errorf("tip %s is not stored", t)
		}
		if hasChild[t] {
			return fmt.Errorf("tip %s has children", t)
		}
		tipSet[t] = true
	}

	for h := range position {
		if !hasChild[h] && !tipSet[h] {
			return fmt.Errorf("transaction %s has no children but is not a tip", h)
		}
	}

	return nil
}
