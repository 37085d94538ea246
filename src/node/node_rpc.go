package node

import (
	"fmt"

	cm "github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
	"github.com/sirupsen/logrus"
)

func (n *Node) processRPC(rpc net.RPC) {
	switch cmd := rpc.Command.(type) {
	case *net.GetTipsRequest:
		n.processGetTipsRequest(rpc, cmd)
	case *net.GetTxRequest:
		n.processGetTxRequest(rpc, cmd)
	case *net.HaveRequest:
		n.processHaveRequest(rpc, cmd)
	case *net.PushTxRequest:
		n.processPushTxRequest(rpc, cmd)
	default:
		n.logger.WithField("cmd", rpc.Command).Error("Unexpected RPC command")
		rpc.Respond(nil, fmt.Errorf("unexpected command"))
	}
}

func (n *Node) processGetTipsRequest(rpc net.RPC, cmd *net.GetTipsRequest) {
	resp := &net.TipsResponse{
		FromAddr: n.trans.AdvertiseAddr(),
	}

	tips, err := n.graph.Tips()
	if err != nil {
		n.logger.WithError(err).Error("Getting tips")
	} else {
		resp.Tips = hashesToWire(tips)
	}

	n.logger.WithFields(logrus.Fields{
		"from": cmd.FromAddr,
		"tips": len(resp.Tips),
	}).Debug("Responding to GetTipsRequest")

	rpc.Respond(resp, err)
}

// processGetTxRequest answers with an empty Tx when the transaction is not
// stored. Deferred transactions are not served.
func (n *Node) processGetTxRequest(rpc net.RPC, cmd *net.GetTxRequest) {
	resp := &net.TxResponse{
		FromAddr: n.trans.AdvertiseAddr(),
	}

	h, err := ledger.HashFromBytes(cmd.Hash)
	if err != nil {
		rpc.Respond(resp, err)
		return
	}

	tx, err := n.graph.Get(h)
	switch {
	case err == nil:
		resp.Tx, err = tx.Marshal()
	case cm.IsStore(err, cm.KeyNotFound):
		err = nil
	default:
		n.logger.WithError(err).Error("Getting transaction")
	}

	rpc.Respond(resp, err)
}

// processHaveRequest tells the peer which of its hashes are unknown here, and
// starts fetching them from that peer.
func (n *Node) processHaveRequest(rpc net.RPC, cmd *net.HaveRequest) {
	resp := &net.HaveResponse{
		FromAddr: n.trans.AdvertiseAddr(),
	}

	hashes, err := hashesFromWire(cmd.FromAddr, cmd.Hashes)
	if err != nil {
		rpc.Respond(resp, err)
		return
	}

	unknown, err := n.unknown(hashes)
	if err != nil {
		n.logger.WithError(err).Error("Checking advertised hashes")
		rpc.Respond(resp, err)
		return
	}

	resp.Unknown = hashesToWire(unknown)

	n.logger.WithFields(logrus.Fields{
		"from":    cmd.FromAddr,
		"hashes":  len(hashes),
		"unknown": len(unknown),
	}).Debug("Responding to HaveRequest")

	rpc.Respond(resp, nil)

	n.requestMissing(cmd.FromAddr, unknown)
}

func (n *Node) processPushTxRequest(rpc net.RPC, cmd *net.PushTxRequest) {
	resp := &net.PushTxResponse{
		FromAddr: n.trans.AdvertiseAddr(),
		Status:   int(ledger.Rejected),
		Kind:     int(ledger.Malformed),
	}

	tx, err := ledger.UnmarshalTransaction(cmd.Tx)
	if err != nil {
		resp.Error = fmt.Sprintf("undecodable transaction: %v", err)
		rpc.Respond(resp, nil)
		return
	}

	res, err := n.submit(tx, cmd.FromAddr)
	if err != nil {
		rpc.Respond(resp, err)
		return
	}

	resp.Status = int(res.Status)
	resp.Kind = 0
	if res.Err != nil {
		resp.Kind = int(res.Err.Kind)
		resp.Error = res.Err.Error()
	}

	n.logger.WithFields(logrus.Fields{
		"from":   cmd.FromAddr,
		"hash":   res.Hash,
		"status": res.Status,
	}).Debug("Responding to PushTxRequest")

	rpc.Respond(resp, nil)
}
