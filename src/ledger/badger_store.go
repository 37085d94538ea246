package ledger

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/dgraph-io/badger"
	lru "github.com/hashicorp/golang-lru/v2"
	cm "github.com/mosaicnetworks/dagger/src/common"
	"github.com/sirupsen/logrus"
)

const (
	txPrefix          = "tx"
	childPrefix       = "child"
	tipPrefix         = "tip"
	weightPrefix      = "weight"
	propagationPrefix = "prop"
	topoPrefix        = "topo"
	accountPrefix     = "account"
	conflictPrefix    = "conflict"
	countKey          = "meta_count"
)

// BadgerStore persists the graph in a Badger database. Transactions are
// immutable, so decoded ones are kept in an LRU cache in front of the
// database.
type BadgerStore struct {
	sync.Mutex

	db      *badger.DB
	path    string
	txCache *lru.Cache[Hash, *Transaction]
	count   int
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(cacheSize int, path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, storeIOError("open", err)
	}

	cache, err := lru.New[Hash, *Transaction](cacheSize)
	if err != nil {
		handle.Close()
		return nil, err
	}

	store := &BadgerStore{
		db:      handle,
		path:    path,
		txCache: cache,
	}

	count, err := store.dbCount()
	if err != nil {
		handle.Close()
		return nil, err
	}
	store.count = count

	return store, nil
}

/*******************************************************************************
Keys
*******************************************************************************/

func txKey(h Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", txPrefix, h))
}

func childrenPrefixKey(parent Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s_", childPrefix, parent))
}

func childKey(parent, child Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s_%s", childPrefix, parent, child))
}

func tipKey(h Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", tipPrefix, h))
}

func weightKey(h Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", weightPrefix, h))
}

func propagationKey(h Hash) []byte {
	return []byte(fmt.Sprintf("%s_%s", propagationPrefix, h))
}

func topologicalKey(index int) []byte {
	return []byte(fmt.Sprintf("%s_%09d", topoPrefix, index))
}

func accountKey(pub []byte) []byte {
	return []byte(fmt.Sprintf("%s_%s", accountPrefix, cm.EncodeToString(pub)))
}

func conflictSetKey(key string) []byte {
	return []byte(fmt.Sprintf("%s_%s", conflictPrefix, key))
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func bytesUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("expected 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func hashFromKeySuffix(key []byte, prefix string) (Hash, error) {
	return HashFromString(strings.TrimPrefix(string(key), prefix))
}

/*******************************************************************************
Implement the Store interface
*******************************************************************************/

// Put implements the Store interface.
func (s *BadgerStore) Put(c *Commit) error {
	s.Lock()
	defer s.Unlock()

	h := c.Tx.Hash()

	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	_, err := txn.Get(txKey(h))
	if err == nil {
		return cm.NewStoreErr("Transaction", cm.KeyAlreadyExists, h.String())
	}
	if !isDBKeyNotFound(err) {
		return storeIOError("put", err)
	}

	val, err := c.Tx.Marshal()
	if err != nil {
		return err
	}

	//insert [tx_hash] => [tx bytes]
	if err := txn.Set(txKey(h), val); err != nil {
		return storeIOError("put", err)
	}

	//insert [topo_index] => [hash]
	if err := txn.Set(topologicalKey(s.count), h.Bytes()); err != nil {
		return storeIOError("put", err)
	}

	for _, p := range c.Tx.Parents() {
		if err := txn.Set(childKey(p, h), []byte{}); err != nil {
			return storeIOError("put", err)
		}
		if err := txn.Delete(tipKey(p)); err != nil {
			return storeIOError("put", err)
		}
	}

	if err := txn.Set(tipKey(h), []byte{}); err != nil {
		return storeIOError("put", err)
	}

	if err := txn.Set(weightKey(h), uint64Bytes(1)); err != nil {
		return storeIOError("put", err)
	}

	if err := txn.Set(propagationKey(h), uint64Bytes(0)); err != nil {
		return storeIOError("put", err)
	}

	for _, a := range c.Accounts {
		if err := setAccount(txn, a); err != nil {
			return err
		}
	}

	if c.Conflict != nil {
		if err := setConflictSet(txn, c.Conflict); err != nil {
			return err
		}
	}

	if err := txn.Set([]byte(countKey), uint64Bytes(uint64(s.count+1))); err != nil {
		return storeIOError("put", err)
	}

	if err := txn.Commit(); err != nil {
		return storeIOError("put", err)
	}

	s.count++
	s.txCache.Add(h, c.Tx)

	return nil
}

// Get implements the Store interface.
func (s *BadgerStore) Get(hash Hash) (*Transaction, error) {
	if tx, ok := s.txCache.Get(hash); ok {
		return tx, nil
	}

	var txBytes []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(txKey(hash))
		if err != nil {
			return err
		}
		txBytes, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err, "Transaction", hash.String())
	}

	tx, err := UnmarshalTransaction(txBytes)
	if err != nil {
		return nil, cm.NewStoreErr("Transaction", cm.Corrupted, hash.String())
	}

	s.txCache.Add(hash, tx)

	return tx, nil
}

// Has implements the Store interface.
func (s *BadgerStore) Has(hash Hash) (bool, error) {
	if s.txCache.Contains(hash) {
		return true, nil
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(txKey(hash))
		return err
	})
	if isDBKeyNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, storeIOError("has", err)
	}
	return true, nil
}

// Children implements the Store interface.
func (s *BadgerStore) Children(hash Hash) ([]Hash, error) {
	prefix := childrenPrefixKey(hash)
	res := []Hash{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			child, err := hashFromKeySuffix(it.Item().Key(), string(prefix))
			if err != nil {
				return cm.NewStoreErr("Children", cm.Corrupted, string(it.Item().Key()))
			}
			res = append(res, child)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "Children", hash.String())
	}
	return res, nil
}

// Tips implements the Store interface.
func (s *BadgerStore) Tips() ([]Hash, error) {
	prefix := []byte(tipPrefix + "_")
	res := []Hash{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			tip, err := hashFromKeySuffix(it.Item().Key(), string(prefix))
			if err != nil {
				return cm.NewStoreErr("Tips", cm.Corrupted, string(it.Item().Key()))
			}
			res = append(res, tip)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "Tips", "")
	}
	SortHashes(res)
	return res, nil
}

// Len implements the Store interface.
func (s *BadgerStore) Len() int {
	s.Lock()
	defer s.Unlock()
	return s.count
}

// TopologicalTransactions implements the Store interface.
func (s *BadgerStore) TopologicalTransactions(start, count int) ([]*Transaction, error) {
	if start < 0 {
		start = 0
	}

	hashes := []Hash{}
	err := s.db.View(func(txn *badger.Txn) error {
		for i := start; i < start+count; i++ {
			item, err := txn.Get(topologicalKey(i))
			if isDBKeyNotFound(err) {
				break
			}
			if err != nil {
				return err
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			h, err := HashFromBytes(v)
			if err != nil {
				return cm.NewStoreErr("Topo", cm.Corrupted, string(topologicalKey(i)))
			}
			hashes = append(hashes, h)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "Topo", "")
	}

	res := make([]*Transaction, 0, len(hashes))
	for _, h := range hashes {
		tx, err := s.Get(h)
		if err != nil {
			return nil, err
		}
		res = append(res, tx)
	}
	return res, nil
}

// Weight implements the Store interface.
func (s *BadgerStore) Weight(hash Hash) (uint64, error) {
	var weight uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		weight, err = getUint64(txn, weightKey(hash))
		return err
	})
	if err != nil {
		return 0, mapError(err, "Weight", hash.String())
	}
	return weight, nil
}

// AddWeight implements the Store interface.
func (s *BadgerStore) AddWeight(batch *WeightBatch) ([]uint64, error) {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	res := make([]uint64, len(batch.Ancestors))
	for i, a := range batch.Ancestors {
		w, err := getUint64(txn, weightKey(a))
		if err != nil {
			return nil, mapError(err, "Weight", a.String())
		}
		if err := txn.Set(weightKey(a), uint64Bytes(w+1)); err != nil {
			return nil, storeIOError("add weight", err)
		}
		res[i] = w + 1
	}

	var err error
	if batch.Done {
		err = txn.Delete(propagationKey(batch.Descendant))
	} else {
		err = txn.Set(propagationKey(batch.Descendant), uint64Bytes(uint64(batch.Progress)))
	}
	if err != nil {
		return nil, storeIOError("add weight", err)
	}

	if err := txn.Commit(); err != nil {
		return nil, storeIOError("add weight", err)
	}

	return res, nil
}

// PendingPropagations implements the Store interface.
func (s *BadgerStore) PendingPropagations() ([]*Propagation, error) {
	prefix := []byte(propagationPrefix + "_")
	res := []*Propagation{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			h, err := hashFromKeySuffix(item.Key(), string(prefix))
			if err != nil {
				return cm.NewStoreErr("Propagation", cm.Corrupted, string(item.Key()))
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			progress, err := bytesUint64(v)
			if err != nil {
				return cm.NewStoreErr("Propagation", cm.Corrupted, string(item.Key()))
			}
			res = append(res, &Propagation{Descendant: h, Progress: int(progress)})
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "Propagation", "")
	}
	return res, nil
}

// Accounts implements the Store interface.
func (s *BadgerStore) Accounts() ([]*Account, error) {
	prefix := []byte(accountPrefix + "_")
	res := []*Account{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			account := new(Account)
			if err := decode(v, account); err != nil {
				return cm.NewStoreErr("Account", cm.Corrupted, string(item.Key()))
			}
			res = append(res, account)
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "Account", "")
	}
	return res, nil
}

// PutAccounts implements the Store interface. A reset that does not fit in
// one database transaction is committed in several; a crash in between is
// repaired when the Graph recomputes the accounts on load.
func (s *BadgerStore) PutAccounts(accounts []*Account, reset bool) error {
	keep := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		keep[string(accountKey(a.PubKey))] = true
	}

	var stale [][]byte
	if reset {
		prefix := []byte(accountPrefix + "_")
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				k := it.Item().KeyCopy(nil)
				if !keep[string(k)] {
					stale = append(stale, k)
				}
			}
			return nil
		})
		if err != nil {
			return storeIOError("put accounts", err)
		}
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, k := range stale {
		err := txn.Delete(k)
		if isTxnTooBig(err) {
			if err := txn.Commit(); err != nil {
				return storeIOError("put accounts", err)
			}
			txn = s.db.NewTransaction(true)
			err = txn.Delete(k)
		}
		if err != nil {
			return storeIOError("put accounts", err)
		}
	}

	for _, a := range accounts {
		err := setAccount(txn, a)
		if isTxnTooBig(err) {
			if err := txn.Commit(); err != nil {
				return storeIOError("put accounts", err)
			}
			txn = s.db.NewTransaction(true)
			err = setAccount(txn, a)
		}
		if err != nil {
			return err
		}
	}

	return storeIOError("put accounts", txn.Commit())
}

// ConflictSet implements the Store interface.
func (s *BadgerStore) ConflictSet(sender []byte, nonce uint64) (*ConflictSet, error) {
	key := conflictKey(sender, nonce)
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conflictSetKey(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err, "ConflictSet", key)
	}

	set := new(ConflictSet)
	if err := decode(data, set); err != nil {
		return nil, cm.NewStoreErr("ConflictSet", cm.Corrupted, key)
	}
	return set, nil
}

// ConflictSets implements the Store interface.
func (s *BadgerStore) ConflictSets() ([]*ConflictSet, error) {
	prefix := []byte(conflictPrefix + "_")
	res := []*ConflictSet{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			set := new(ConflictSet)
			if err := decode(v, set); err != nil {
				return cm.NewStoreErr("ConflictSet", cm.Corrupted, string(item.Key()))
			}
			if set.IsConflict() {
				res = append(res, set)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err, "ConflictSet", "")
	}
	return res, nil
}

// PutConflictSets implements the Store interface.
func (s *BadgerStore) PutConflictSets(sets []*ConflictSet) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	for _, c := range sets {
		if err := setConflictSet(txn, c); err != nil {
			return err
		}
	}

	return storeIOError("put conflict sets", txn.Commit())
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

/*******************************************************************************
DB helpers
*******************************************************************************/

func (s *BadgerStore) dbCount() (int, error) {
	var count uint64
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		count, err = getUint64(txn, []byte(countKey))
		return err
	})
	if isDBKeyNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, storeIOError("count", err)
	}
	return int(count), nil
}

func getUint64(txn *badger.Txn, key []byte) (uint64, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	res, err := bytesUint64(v)
	if err != nil {
		return 0, cm.NewStoreErr("Uint64", cm.Corrupted, string(key))
	}
	return res, nil
}

func setAccount(txn *badger.Txn, a *Account) error {
	val, err := encode(a)
	if err != nil {
		return err
	}
	//insert [account_pubkey] => [account bytes]
	if err := txn.Set(accountKey(a.PubKey), val); err != nil {
		if isTxnTooBig(err) {
			return err
		}
		return storeIOError("set account", err)
	}
	return nil
}

func setConflictSet(txn *badger.Txn, c *ConflictSet) error {
	val, err := encode(c)
	if err != nil {
		return err
	}
	//insert [conflict_sender:nonce] => [conflict set bytes]
	if err := txn.Set(conflictSetKey(c.Key()), val); err != nil {
		return storeIOError("set conflict", err)
	}
	return nil
}

func isTxnTooBig(err error) bool {
	return err == badger.ErrTxnTooBig
}

func isDBKeyNotFound(err error) bool {
	return err != nil && err.Error() == badger.ErrKeyNotFound.Error()
}

// mapError turns a missing key into a KeyNotFound StoreErr and any other
// database failure into a StoreIOError.
func mapError(err error, name, key string) error {
	if err == nil {
		return nil
	}
	if isDBKeyNotFound(err) {
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	if _, ok := err.(cm.StoreErr); ok {
		return err
	}
	return storeIOError(name, err)
}
