package net

// Transport provides an interface for network transports
// to allow a node to communicate with other nodes.
type Transport interface {

	// Starts the transport listening
	Listen()

	// Consumer returns a channel that can be used to
	// consume and respond to RPC requests.
	Consumer() <-chan RPC

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// GetTips, GetTx, Have, and PushTx send the appropriate RPC to the target
	// node.

	GetTips(target string, args *GetTipsRequest, resp *TipsResponse) error

	GetTx(target string, args *GetTxRequest, resp *TxResponse) error

	Have(target string, args *HaveRequest, resp *HaveResponse) error

	PushTx(target string, args *PushTxRequest, resp *PushTxResponse) error

	// DropConn closes the connections open towards target, after it sent
	// something that breaks the protocol.
	DropConn(target string)

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}
