package node

import (
	"context"
	"sync/atomic"

	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/mosaicnetworks/dagger/src/peers"
	"github.com/sirupsen/logrus"
)

// SessionState is the progress of the sync protocol with one peer.
type SessionState uint32

const (
	// Connected is the initial state, and the state a session returns to
	// after an error.
	Connected SessionState = iota
	// ExchangingTips is waiting for the peer's tips.
	ExchangingTips
	// Syncing is fetching the transactions the peer has and we lack.
	Syncing
	// Steady means the last round found nothing to fetch. New transactions
	// are still pushed and the tips are still compared, less often.
	Steady
)

// String ...
func (s SessionState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case ExchangingTips:
		return "ExchangingTips"
	case Syncing:
		return "Syncing"
	case Steady:
		return "Steady"
	default:
		return "Unknown"
	}
}

// pushQueueSize bounds the transactions waiting to be pushed to one peer.
// Overflowing transactions are not lost for the peer: they reach it through
// the next tips exchange.
const pushQueueSize = 256

// session drives the sync protocol with one peer. Each session runs in its
// own goroutine and only talks to the rest of the node through channels and
// the node's submission path.
type session struct {
	peer   *peers.Peer
	node   *Node
	state  uint32
	timer  *ControlTimer
	pushCh chan *ledger.Transaction
	logger *logrus.Entry
}

func newSession(peer *peers.Peer, n *Node) *session {
	return &session{
		peer:   peer,
		node:   n,
		timer:  NewRandomControlTimer(),
		pushCh: make(chan *ledger.Transaction, pushQueueSize),
		logger: n.logger.WithField("peer", peer.NetAddr),
	}
}

func (s *session) getState() SessionState {
	return SessionState(atomic.LoadUint32(&s.state))
}

func (s *session) setState(st SessionState) {
	atomic.StoreUint32(&s.state, uint32(st))
}

// enqueue schedules tx to be pushed to the peer. It never blocks.
func (s *session) enqueue(tx *ledger.Transaction) {
	select {
	case s.pushCh <- tx:
	default:
		s.logger.WithField("hash", tx.Hash()).Debug("Push queue full")
	}
}

// run returns when ctx is cancelled.
func (s *session) run(ctx context.Context) {
	go s.timer.Run(s.node.conf.HeartbeatTimeout)
	defer s.timer.Shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case tx := <-s.pushCh:
			s.push(tx)
		case <-s.timer.tickCh:
			next := s.node.conf.SlowHeartbeatTimeout
			if s.sync() {
				next = s.node.conf.HeartbeatTimeout
			}
			s.timer.Reset(next)
		}
	}
}

// sync runs one round of the protocol: compare tips, fetch what the peer has
// and we lack, and advertise our tips so that the peer can do the same. It
// reports whether anything was exchanged.
func (s *session) sync() bool {
	n := s.node
	addr := s.peer.NetAddr

	s.setState(ExchangingTips)

	var tipsResp net.TipsResponse
	err := n.trans.GetTips(addr, &net.GetTipsRequest{FromAddr: n.trans.AdvertiseAddr()}, &tipsResp)
	n.countSync(err)
	if err != nil {
		s.fail(err)
		return false
	}

	remoteTips, err := hashesFromWire(addr, tipsResp.Tips)
	if err != nil {
		s.fail(err)
		return false
	}

	unknown, err := n.unknown(remoteTips)
	if err != nil {
		s.fail(err)
		return false
	}

	if len(unknown) > 0 {
		s.setState(Syncing)
		s.logger.WithField("unknown_tips", len(unknown)).Debug("Syncing")
		n.fetchAll(addr, unknown)
	}

	localTips, err := n.graph.Tips()
	if err != nil {
		s.fail(err)
		return false
	}

	var haveResp net.HaveResponse
	err = n.trans.Have(addr, &net.HaveRequest{
		FromAddr: n.trans.AdvertiseAddr(),
		Hashes:   hashesToWire(localTips),
	}, &haveResp)
	n.countSync(err)
	if err != nil {
		s.fail(err)
		return false
	}

	s.setState(Steady)

	return len(unknown) > 0 || len(haveResp.Unknown) > 0
}

func (s *session) push(tx *ledger.Transaction) {
	n := s.node

	data, err := tx.Marshal()
	if err != nil {
		s.logger.WithError(err).Error("Encoding transaction")
		return
	}

	var resp net.PushTxResponse
	err = n.trans.PushTx(s.peer.NetAddr, &net.PushTxRequest{
		FromAddr: n.trans.AdvertiseAddr(),
		Tx:       data,
	}, &resp)
	n.countSync(err)
	if err != nil {
		s.fail(err)
		return
	}

	if resp.Error != "" {
		s.logger.WithFields(logrus.Fields{
			"hash":   tx.Hash(),
			"status": ledger.Status(resp.Status),
			"kind":   ledger.ErrorKind(resp.Kind),
		}).Debug("Peer did not accept pushed transaction")
	}
}

// fail drops the connection after a protocol error. The session starts over
// from Connected on the next tick.
func (s *session) fail(err error) {
	if net.IsPeerProtocol(err) {
		s.logger.WithError(err).Warn("Dropping peer connection")
		s.node.trans.DropConn(s.peer.NetAddr)
	} else {
		s.logger.WithError(err).Debug("Sync round failed")
	}
	s.setState(Connected)
}

func hashesToWire(hashes []ledger.Hash) [][]byte {
	res := make([][]byte, len(hashes))
	for i, h := range hashes {
		res[i] = h.Bytes()
	}
	return res
}

func hashesFromWire(peer string, bs [][]byte) ([]ledger.Hash, error) {
	res := make([]ledger.Hash, 0, len(bs))
	for _, b := range bs {
		h, err := ledger.HashFromBytes(b)
		if err != nil {
			return nil, net.NewPeerProtocolError(peer, "bad hash: %v", err)
		}
		res = append(res, h)
	}
	return res, nil
}
