package node

import (
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// fetcher retrieves transactions by hash. Concurrent requests for the same
// hash share a single round of RPCs. Each attempt goes to a different peer.
type fetcher struct {
	group   singleflight.Group
	trans   net.Transport
	self    string
	retries int
	logger  *logrus.Entry
}

func newFetcher(trans net.Transport, retries int, logger *logrus.Entry) *fetcher {
	if retries < 1 {
		retries = 1
	}
	return &fetcher{
		trans:   trans,
		self:    trans.AdvertiseAddr(),
		retries: retries,
		logger:  logger,
	}
}

// Fetch asks the candidates for h, in order, until one of them returns a
// transaction whose recomputed hash is h. At most retries candidates are
// tried.
func (f *fetcher) Fetch(h ledger.Hash, candidates []string) (*ledger.Transaction, error) {
	v, err, _ := f.group.Do(h.String(), func() (interface{}, error) {
		return f.fetch(h, candidates)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ledger.Transaction), nil
}

func (f *fetcher) fetch(h ledger.Hash, candidates []string) (*ledger.Transaction, error) {
	attempts := 0
	for _, addr := range candidates {
		if attempts == f.retries {
			break
		}
		attempts++

		tx, err := f.fetchFrom(addr, h)
		if err == nil && tx != nil {
			return tx, nil
		}

		fields := logrus.Fields{
			"hash": h,
			"peer": addr,
		}
		switch {
		case err == nil:
			f.logger.WithFields(fields).Debug("Peer does not have transaction")
		case net.IsPeerProtocol(err):
			f.logger.WithFields(fields).WithError(err).Warn("Dropping peer connection")
			f.trans.DropConn(addr)
		default:
			f.logger.WithFields(fields).WithError(err).Debug("GetTx failed")
		}
	}

	return nil, &SyncTimeoutError{Hash: h, Attempts: attempts}
}

// fetchFrom returns nil, nil when the peer does not know h.
func (f *fetcher) fetchFrom(addr string, h ledger.Hash) (*ledger.Transaction, error) {
	var resp net.TxResponse
	err := f.trans.GetTx(addr, &net.GetTxRequest{FromAddr: f.self, Hash: h.Bytes()}, &resp)
	if err != nil {
		return nil, err
	}

	if len(resp.Tx) == 0 {
		return nil, nil
	}

	tx, err := ledger.UnmarshalTransaction(resp.Tx)
	if err != nil {
		return nil, net.NewPeerProtocolError(addr, "undecodable transaction: %v", err)
	}

	if tx.Hash() != h {
		return nil, net.NewPeerProtocolError(addr, "asked for %s, got %s", h, tx.Hash())
	}

	return tx, nil
}
