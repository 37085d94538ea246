package net

import (
	"errors"
	"io"
	"net"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/dagger/src/common"
)

var errTestRemote = errors.New("not found")

func newTestTCPTransport(t *testing.T, maxPool int) *NetworkTransport {
	trans, err := NewTCPTransport("127.0.0.1:0", "", maxPool, time.Second, common.NewTestEntry(t, common.TestLogLevel))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	go trans.Listen()
	return trans
}

func TestNetworkTransport_PooledConn(t *testing.T) {
	// Transport 1 is consumer
	trans1 := newTestTCPTransport(t, 2)
	defer trans1.Close()
	rpcCh := trans1.Consumer()

	args := HaveRequest{
		FromAddr: "client",
		Hashes:   [][]byte{[]byte("a"), []byte("b")},
	}
	resp := HaveResponse{
		FromAddr: "server",
		Unknown:  [][]byte{[]byte("b")},
	}

	// Listen for requests
	go func() {
		for {
			select {
			case rpc := <-rpcCh:
				req := rpc.Command.(*HaveRequest)
				if !reflect.DeepEqual(req, &args) {
					t.Errorf("command mismatch: %#v %#v", *req, args)
				}
				// keep requests in flight long enough to open 5 conns
				time.Sleep(20 * time.Millisecond)
				rpc.Respond(&resp, nil)
			case <-time.After(500 * time.Millisecond):
				return
			}
		}
	}()

	// Transport 2 makes outbound requests, 3 conn pool
	trans2 := newTestTCPTransport(t, 3)
	defer trans2.Close()

	wg := &sync.WaitGroup{}
	wg.Add(5)

	haveFunc := func() {
		defer wg.Done()
		var out HaveResponse
		if err := trans2.Have(trans1.LocalAddr(), &args, &out); err != nil {
			t.Errorf("err: %v", err)
			return
		}
		if !reflect.DeepEqual(resp, out) {
			t.Errorf("response mismatch: %#v %#v", resp, out)
		}
	}

	// Parallel requests stress the conn pool
	for i := 0; i < 5; i++ {
		go haveFunc()
	}
	wg.Wait()

	addr := trans1.LocalAddr()
	trans2.connPoolLock.Lock()
	pooled := len(trans2.connPool[addr])
	trans2.connPoolLock.Unlock()
	if pooled != 3 {
		t.Fatalf("expected 3 pooled conns, got %d", pooled)
	}

	trans2.DropConn(addr)

	trans2.connPoolLock.Lock()
	pooled = len(trans2.connPool[addr])
	trans2.connPoolLock.Unlock()
	if pooled != 0 {
		t.Fatalf("expected no pooled conns after DropConn, got %d", pooled)
	}
}

// A client that sends an unknown frame gets its connection closed.
func TestNetworkTransport_DropsMalformedRequest(t *testing.T) {
	trans := newTestTCPTransport(t, 1)
	defer trans.Close()

	conn, err := net.Dial("tcp", trans.LocalAddr())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte{0xff, 0x00}); err != nil {
		t.Fatalf("err: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expected the connection to be closed, got %v", err)
	}
}

// A server that answers with undecodable bytes yields a PeerProtocolError.
func TestNetworkTransport_MalformedResponse(t *testing.T) {
	list, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer list.Close()

	go func() {
		conn, err := list.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.Read(buf)
		// 0xc1 is never used in msgpack
		conn.Write([]byte{0xc1})
		time.Sleep(500 * time.Millisecond)
	}()

	trans := newTestTCPTransport(t, 1)
	defer trans.Close()

	var out TipsResponse
	err = trans.GetTips(list.Addr().String(), &GetTipsRequest{FromAddr: "me"}, &out)
	if !IsPeerProtocol(err) {
		t.Fatalf("expected a PeerProtocolError, got %v", err)
	}
}

func TestNetworkTransport_Shutdown(t *testing.T) {
	trans := newTestTCPTransport(t, 1)
	trans.Close()

	var out TipsResponse
	if err := trans.GetTips("127.0.0.1:1", &GetTipsRequest{}, &out); err != ErrTransportShutdown {
		t.Fatalf("expected ErrTransportShutdown, got %v", err)
	}
}
