package node

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/mosaicnetworks/dagger/src/config"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/mosaicnetworks/dagger/src/node/state"
	"github.com/mosaicnetworks/dagger/src/peers"
	"github.com/sirupsen/logrus"
)

// submission is a transaction on its way to the Graph. Local submissions have
// an empty from.
type submission struct {
	tx     *ledger.Transaction
	from   string
	respCh chan submitResult
}

type submitResult struct {
	res *ledger.Result
	err error
}

// Node defines a dagger node
type Node struct {
	// The node's state machine and goroutine limiter
	state.Manager

	conf   *config.Config
	logger *logrus.Entry

	store ledger.Store
	graph *ledger.Graph

	trans net.Transport
	netCh <-chan net.RPC

	peers    *peers.PeerSet
	selector PeerSelector
	sessions map[string]*session
	fetcher  *fetcher

	submitCh  chan *submission
	scheduler *gocron.Scheduler

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	sessionWG    sync.WaitGroup

	start        time.Time
	accepted     int64
	rejected     int64
	syncRequests int64
	syncErrors   int64
}

// NewNode is a factory method that returns a Node instance. The Graph is
// loaded from store, which the Node closes on Shutdown. peerSet is the static
// list of peers; an entry with the node's own address is ignored.
func NewNode(conf *config.Config,
	store ledger.Store,
	peerSet *peers.PeerSet,
	trans net.Transport,
) (*Node, error) {

	logger := conf.Logger().WithField("node", trans.AdvertiseAddr())

	graph, err := ledger.NewGraph(store, conf.LedgerConfig(), logger.WithField("component", "ledger"))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	selector := NewRandomPeerSelector(peerSet, trans.AdvertiseAddr(), time.Now().UnixNano())

	node := &Node{
		conf:       conf,
		logger:     logger,
		store:      store,
		graph:      graph,
		trans:      trans,
		netCh:      trans.Consumer(),
		peers:      selector.Peers(),
		selector:   selector,
		sessions:   make(map[string]*session),
		fetcher:    newFetcher(trans, conf.SyncRetries, logger),
		submitCh:   make(chan *submission),
		scheduler:  gocron.NewScheduler(time.UTC),
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
		start:      time.Now(),
	}

	for _, p := range node.peers.Peers {
		node.sessions[p.NetAddr] = newSession(p, node)
	}

	return node, nil
}

// Init inserts the genesis transaction into an empty graph, or checks that a
// non-empty graph has the same root. With a nil genesis, an empty node waits
// to receive the root from its peers.
func (n *Node) Init(genesis *ledger.Transaction) error {
	if n.graph.Len() == 0 {
		if genesis == nil {
			n.logger.Warn("Empty graph and no genesis, the root will be fetched from peers")
			return nil
		}

		res, err := n.graph.Insert(genesis)
		if err != nil {
			return err
		}
		if res.Status != ledger.Accepted {
			return fmt.Errorf("genesis transaction %s: %v", res.Hash, res.Err)
		}

		n.logger.WithField("hash", res.Hash).Info("Inserted genesis transaction")
		return nil
	}

	if err := n.graph.Verify(); err != nil {
		return fmt.Errorf("stored graph is inconsistent: %v", err)
	}

	if genesis != nil {
		roots, err := n.graph.Transactions(0, 1)
		if err != nil {
			return err
		}
		if len(roots) == 0 || roots[0].Hash() != genesis.Hash() {
			return fmt.Errorf("stored graph does not start with genesis %s", genesis.Hash())
		}
	}

	n.logger.WithField("transactions", n.graph.Len()).Debug("Loaded graph")

	return nil
}

// RunAsync calls Run in a separate goroutine.
func (n *Node) RunAsync() {
	n.logger.Debug("runasync")

	go n.Run()
}

// Run starts the peer sessions and the background jobs, and handles incoming
// RPCs until Shutdown.
func (n *Node) Run() {
	n.SetState(state.Running)

	go n.trans.Listen()

	go n.processSubmissions()

	for _, s := range n.sessions {
		n.sessionWG.Add(1)
		go func(s *session) {
			defer n.sessionWG.Done()
			s.run(n.ctx)
		}(s)
	}

	if err := n.scheduleJobs(); err != nil {
		n.logger.WithError(err).Error("Scheduling background jobs")
	}
	n.scheduler.StartAsync()

	n.doBackgroundWork()
}

func (n *Node) doBackgroundWork() {
	for {
		select {
		case rpc := <-n.netCh:
			if !n.GoFunc(func() { n.processRPC(rpc) }) {
				n.processRPC(rpc)
			}
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) scheduleJobs() error {
	interval := n.conf.SweepInterval
	if interval <= 0 {
		interval = config.DefaultSweepInterval
	}

	if _, err := n.scheduler.Every(interval).WaitForSchedule().Do(n.sweepPending); err != nil {
		return err
	}

	if _, err := n.scheduler.Every(interval).WaitForSchedule().Do(n.logStats); err != nil {
		return err
	}

	return nil
}

// sweepPending drops expired Deferred transactions and requests the missing
// parents of the others again.
func (n *Node) sweepPending() {
	expired := n.graph.ExpirePending(time.Now())
	if len(expired) > 0 {
		n.logger.WithField("expired", len(expired)).Debug("Expired pending transactions")
	}

	if missing := n.graph.PendingMissing(); len(missing) > 0 {
		n.requestMissing("", missing)
	}
}

/*******************************************************************************
Submission
*******************************************************************************/

// processSubmissions is the only caller of Graph.Insert once the node runs.
func (n *Node) processSubmissions() {
	for {
		select {
		case s := <-n.submitCh:
			res, err := n.graph.Insert(s.tx)
			s.respCh <- submitResult{res, err}
			if err != nil {
				n.storeFailure(err)
				return
			}
			n.afterInsert(s, res)
		case <-n.shutdownCh:
			return
		}
	}
}

func (n *Node) afterInsert(s *submission, res *ledger.Result) {
	switch res.Status {
	case ledger.Accepted:
		if res.Duplicate {
			return
		}
		atomic.AddInt64(&n.accepted, 1)
		n.broadcast(s.tx, s.from)
	case ledger.Deferred:
		n.requestMissing(s.from, res.Missing)
	case ledger.Rejected:
		atomic.AddInt64(&n.rejected, 1)
		n.logger.WithFields(logrus.Fields{
			"hash":  res.Hash,
			"from":  s.from,
			"error": res.Err,
		}).Debug("Transaction rejected")
	}

	for _, tx := range res.Promoted {
		atomic.AddInt64(&n.accepted, 1)
		n.broadcast(tx, "")
	}

	if len(res.Evicted) > 0 {
		n.logger.WithField("evicted", len(res.Evicted)).Warn("Pending pool full")
	}
}

// broadcast pushes tx to every peer except the one it came from.
func (n *Node) broadcast(tx *ledger.Transaction, except string) {
	for addr, s := range n.sessions {
		if addr != except {
			s.enqueue(tx)
		}
	}
}

// storeFailure shuts the node down. The store can no longer be trusted to
// reflect the Graph.
func (n *Node) storeFailure(err error) {
	n.logger.WithError(err).Error("Store failure, shutting down")
	go n.Shutdown()
}

// submit hands tx to the submission goroutine and waits for the result.
func (n *Node) submit(tx *ledger.Transaction, from string) (*ledger.Result, error) {
	s := &submission{
		tx:     tx,
		from:   from,
		respCh: make(chan submitResult, 1),
	}

	select {
	case n.submitCh <- s:
	case <-n.shutdownCh:
		return nil, ErrShutdown
	}

	select {
	case r := <-s.respCh:
		return r.res, r.err
	case <-n.shutdownCh:
		return nil, ErrShutdown
	}
}

// Submit validates and inserts a locally created transaction and gossips it
// to the peers. The hash is returned in every case. A transaction whose
// parents are unknown is held, its parents are requested from the peers, and
// the error is a MissingParent ValidationError. A rejected transaction
// returns its ValidationError.
func (n *Node) Submit(tx *ledger.Transaction) (ledger.Hash, error) {
	res, err := n.submit(tx, "")
	if err != nil {
		return tx.Hash(), err
	}

	if res.Status != ledger.Accepted {
		return res.Hash, res.Err
	}

	return res.Hash, nil
}

/*******************************************************************************
Fetching
*******************************************************************************/

// unknown filters out the hashes that are stored or held as Deferred.
func (n *Node) unknown(hashes []ledger.Hash) ([]ledger.Hash, error) {
	res := []ledger.Hash{}
	for _, h := range hashes {
		known, err := n.graph.Known(h)
		if err != nil {
			return nil, err
		}
		if !known {
			res = append(res, h)
		}
	}
	return res, nil
}

// requestMissing fetches hashes in the background.
func (n *Node) requestMissing(preferred string, hashes []ledger.Hash) {
	if len(hashes) == 0 {
		return
	}
	if !n.GoFunc(func() { n.fetchAll(preferred, hashes) }) {
		n.logger.WithField("hashes", len(hashes)).Debug("Too many fetches in progress")
	}
}

// fetchAll retrieves hashes and whatever ancestors they turn out to be
// missing, and submits them. A hash that no peer delivers is forgotten. It
// returns the number of transactions submitted.
func (n *Node) fetchAll(preferred string, hashes []ledger.Hash) int {
	queue := append([]ledger.Hash{}, hashes...)
	visited := make(map[ledger.Hash]bool)
	fetched := 0

	for len(queue) > 0 {
		select {
		case <-n.shutdownCh:
			return fetched
		default:
		}

		h := queue[0]
		queue = queue[1:]

		if visited[h] {
			continue
		}
		visited[h] = true

		known, err := n.graph.Known(h)
		if err != nil {
			n.logger.WithError(err).Error("Checking known transaction")
			return fetched
		}
		if known {
			continue
		}

		candidates := n.selector.Candidates(preferred, n.conf.SyncRetries)
		tx, err := n.fetcher.Fetch(h, candidates)
		if err != nil {
			n.logger.WithError(err).Debug("Fetch failed")
			continue
		}

		res, err := n.submit(tx, preferred)
		if err != nil {
			return fetched
		}
		fetched++

		if res.Status == ledger.Deferred {
			queue = append(queue, res.Missing...)
		}
	}

	return fetched
}

/*******************************************************************************
Shutdown
*******************************************************************************/

// Shutdown stops the sessions and background routines, then closes the
// transport and the store. It is safe to call more than once.
func (n *Node) Shutdown() {
	n.shutdownOnce.Do(func() {
		n.logger.Debug("Shutdown")

		n.SetState(state.Shutdown)

		close(n.shutdownCh)
		n.cancel()

		n.scheduler.Stop()

		n.sessionWG.Wait()
		n.WaitRoutines()

		// transport and store should only be closed once all concurrent
		// operations are finished
		n.trans.Close()

		if err := n.store.Close(); err != nil {
			n.logger.WithError(err).Error("Closing store")
		}
	})
}

/*******************************************************************************
Query API
*******************************************************************************/

// GetTransaction returns a stored transaction.
func (n *Node) GetTransaction(h ledger.Hash) (*ledger.Transaction, error) {
	return n.graph.Get(h)
}

// Weight returns the weight of a stored transaction.
func (n *Node) Weight(h ledger.Hash) (uint64, error) {
	return n.graph.Weight(h)
}

// BalanceOf ...
func (n *Node) BalanceOf(pub []byte) uint64 {
	return n.graph.BalanceOf(pub)
}

// NonceOf returns the last nonce used by pub.
func (n *Node) NonceOf(pub []byte) uint64 {
	return n.graph.NonceOf(pub)
}

// Tips ...
func (n *Node) Tips() ([]ledger.Hash, error) {
	return n.graph.Tips()
}

// IsConfirmed ...
func (n *Node) IsConfirmed(h ledger.Hash) (bool, error) {
	return n.graph.IsConfirmed(h)
}

// IsPending reports whether h waits for its parents.
func (n *Node) IsPending(h ledger.Hash) bool {
	return n.graph.IsPending(h)
}

// PendingTransactions lists the transactions waiting for their parents.
func (n *Node) PendingTransactions() []*ledger.Transaction {
	return n.graph.Pending()
}

// Conflict returns the double-spend set h belongs to, if any.
func (n *Node) Conflict(h ledger.Hash) (*ledger.ConflictSet, bool) {
	return n.graph.Conflict(h)
}

// Transactions lists stored transactions in insertion order.
func (n *Node) Transactions(offset, limit int) ([]*ledger.Transaction, error) {
	return n.graph.Transactions(offset, limit)
}

// Accounts ...
func (n *Node) Accounts() []*ledger.Account {
	return n.graph.Accounts()
}

// GetPeers returns the peers
func (n *Node) GetPeers() []*peers.Peer {
	return n.peers.Peers
}

// SessionStates returns the sync state of each peer session, by address.
func (n *Node) SessionStates() map[string]string {
	res := make(map[string]string, len(n.sessions))
	for addr, s := range n.sessions {
		res[addr] = s.getState().String()
	}
	return res
}

func (n *Node) countSync(err error) {
	atomic.AddInt64(&n.syncRequests, 1)
	if err != nil {
		atomic.AddInt64(&n.syncErrors, 1)
	}
}

// SyncRate returns the share of sync RPCs that succeeded.
func (n *Node) SyncRate() float64 {
	requests := atomic.LoadInt64(&n.syncRequests)
	errors := atomic.LoadInt64(&n.syncErrors)

	var syncErrorRate float64
	if requests != 0 {
		syncErrorRate = float64(errors) / float64(requests)
	}

	return 1 - syncErrorRate
}

// GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := map[string]string{
		"state":     n.GetState().String(),
		"moniker":   n.conf.Moniker,
		"num_peers": strconv.Itoa(n.peers.Len()),
		"sync_rate": strconv.FormatFloat(n.SyncRate(), 'f', 2, 64),
		"accepted":  strconv.FormatInt(atomic.LoadInt64(&n.accepted), 10),
		"rejected":  strconv.FormatInt(atomic.LoadInt64(&n.rejected), 10),
	}

	if n.conf.Key != nil {
		s["pubkey"] = keys.PublicKeyHex(&n.conf.Key.PublicKey)
	}

	if elapsed := time.Since(n.start).Seconds(); elapsed > 0 {
		tps := float64(atomic.LoadInt64(&n.accepted)) / elapsed
		s["transactions_per_second"] = strconv.FormatFloat(tps, 'f', 2, 64)
	}

	stats, err := n.graph.Stats()
	if err != nil {
		n.logger.WithError(err).Error("Graph stats")
		return s
	}

	s["transactions"] = strconv.Itoa(stats.Transactions)
	s["tips"] = strconv.Itoa(stats.Tips)
	s["pending"] = strconv.Itoa(stats.Pending)
	s["conflicts"] = strconv.Itoa(stats.Conflicts)
	s["frozen_conflicts"] = strconv.Itoa(stats.FrozenConflicts)
	s["above_threshold"] = strconv.Itoa(stats.AboveThreshold)
	s["accounts"] = strconv.Itoa(stats.Accounts)
	s["supply"] = strconv.FormatUint(stats.Supply, 10)
	s["finality_threshold"] = strconv.FormatUint(stats.FinalityThreshold, 10)

	return s
}

func (n *Node) logStats() {
	stats := n.GetStats()

	fields := logrus.Fields{}
	for k, v := range stats {
		fields[k] = v
	}

	n.logger.WithFields(fields).Debug("Stats")
}
