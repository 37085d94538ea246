package node

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/net"
)

func callRPC(t *testing.T, n *Node, cmd interface{}) net.RPCResponse {
	t.Helper()
	respCh := make(chan net.RPCResponse, 1)
	n.processRPC(net.RPC{Command: cmd, RespChan: respCh})
	select {
	case resp := <-respCh:
		return resp
	case <-time.After(time.Second):
		t.Fatal("no response")
	}
	return net.RPCResponse{}
}

func initSingleNode(t *testing.T) (*Node, *account, *ledger.Transaction) {
	nodes := initNodes(t, 1)
	bank := newAccount(t)
	g := bank.genesis(t, 1000)
	if err := nodes[0].Init(g); err != nil {
		t.Fatal(err)
	}
	return nodes[0], bank, g
}

func TestProcessGetTips(t *testing.T) {
	n, _, g := initSingleNode(t)

	resp := callRPC(t, n, &net.GetTipsRequest{FromAddr: "peer"})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}

	tips := resp.Response.(*net.TipsResponse).Tips
	if len(tips) != 1 || string(tips[0]) != string(g.Hash().Bytes()) {
		t.Fatalf("the only tip should be the genesis, got %v", tips)
	}
}

func TestProcessGetTx(t *testing.T) {
	n, bank, g := initSingleNode(t)

	resp := callRPC(t, n, &net.GetTxRequest{FromAddr: "peer", Hash: g.Hash().Bytes()})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}

	tx, err := ledger.UnmarshalTransaction(resp.Response.(*net.TxResponse).Tx)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Hash() != g.Hash() {
		t.Fatalf("served transaction should be the genesis")
	}

	unknown := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})
	resp = callRPC(t, n, &net.GetTxRequest{FromAddr: "peer", Hash: unknown.Hash().Bytes()})
	if resp.Error != nil {
		t.Fatalf("unknown transaction should not be an error: %v", resp.Error)
	}
	if len(resp.Response.(*net.TxResponse).Tx) != 0 {
		t.Fatalf("unknown transaction should be answered with an empty Tx")
	}

	resp = callRPC(t, n, &net.GetTxRequest{FromAddr: "peer", Hash: []byte{1, 2, 3}})
	if resp.Error == nil {
		t.Fatalf("a malformed hash should be an error")
	}
}

func TestProcessHave(t *testing.T) {
	n, bank, g := initSingleNode(t)

	unknown := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})

	resp := callRPC(t, n, &net.HaveRequest{
		FromAddr: "nowhere",
		Hashes:   [][]byte{g.Hash().Bytes(), unknown.Hash().Bytes()},
	})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}

	res := resp.Response.(*net.HaveResponse).Unknown
	if len(res) != 1 || string(res[0]) != string(unknown.Hash().Bytes()) {
		t.Fatalf("only the second hash should be unknown, got %v", res)
	}
}

func TestProcessPushTx(t *testing.T) {
	n, bank, g := initSingleNode(t)
	n.RunAsync()

	good := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})
	raw, err := good.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	resp := callRPC(t, n, &net.PushTxRequest{FromAddr: "peer", Tx: raw})
	if resp.Error != nil {
		t.Fatal(resp.Error)
	}
	push := resp.Response.(*net.PushTxResponse)
	if ledger.Status(push.Status) != ledger.Accepted || push.Error != "" {
		t.Fatalf("pushed transaction should be accepted, got %+v", push)
	}

	bad := bank.tx(t, []ledger.Hash{g.Hash()}, 9, ledger.Data{})
	raw, err = bad.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	push = callRPC(t, n, &net.PushTxRequest{FromAddr: "peer", Tx: raw}).Response.(*net.PushTxResponse)
	if ledger.Status(push.Status) != ledger.Rejected || ledger.ErrorKind(push.Kind) != ledger.InvalidNonce {
		t.Fatalf("pushed transaction should be rejected with InvalidNonce, got %+v", push)
	}

	push = callRPC(t, n, &net.PushTxRequest{FromAddr: "peer", Tx: []byte{0xc1}}).Response.(*net.PushTxResponse)
	if ledger.Status(push.Status) != ledger.Rejected || ledger.ErrorKind(push.Kind) != ledger.Malformed {
		t.Fatalf("garbage should be rejected as Malformed, got %+v", push)
	}
}

// serveTx answers GetTx requests on trans with tx until the transport closes.
func serveTx(trans *net.InmemTransport, tx *ledger.Transaction) {
	go func() {
		for rpc := range trans.Consumer() {
			resp := &net.TxResponse{FromAddr: trans.LocalAddr()}
			if tx != nil {
				resp.Tx, _ = tx.Marshal()
			}
			rpc.Respond(resp, nil)
		}
	}()
}

func TestFetcherSkipsBadPeers(t *testing.T) {
	bank := newAccount(t)
	g := bank.genesis(t, 1000)
	other := bank.tx(t, []ledger.Hash{g.Hash()}, 2, ledger.Data{})

	_, client := net.NewInmemTransport("")
	liarAddr, liar := net.NewInmemTransport("")
	emptyAddr, empty := net.NewInmemTransport("")
	goodAddr, good := net.NewInmemTransport("")
	defer liar.Close()
	defer empty.Close()
	defer good.Close()

	client.Connect(liarAddr, liar)
	client.Connect(emptyAddr, empty)
	client.Connect(goodAddr, good)

	serveTx(liar, other)
	serveTx(empty, nil)
	serveTx(good, g)

	f := newFetcher(client, 3, common.NewTestEntry(t, common.TestLogLevel))

	tx, err := f.Fetch(g.Hash(), []string{liarAddr, emptyAddr, goodAddr})
	if err != nil {
		t.Fatal(err)
	}
	if tx.Hash() != g.Hash() {
		t.Fatalf("fetched the wrong transaction")
	}

	// retries caps the number of peers asked
	f = newFetcher(client, 2, common.NewTestEntry(t, common.TestLogLevel))

	_, err = f.Fetch(g.Hash(), []string{liarAddr, emptyAddr, goodAddr})
	if !IsSyncTimeout(err) {
		t.Fatalf("expected SyncTimeoutError, got %v", err)
	}
	if err.(*SyncTimeoutError).Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", err.(*SyncTimeoutError).Attempts)
	}
}
