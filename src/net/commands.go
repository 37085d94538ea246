package net

// GetTipsRequest asks a peer for the transactions at the frontier of its
// graph.
type GetTipsRequest struct {
	FromAddr string
}

// TipsResponse lists the hashes of the responder's tips.
type TipsResponse struct {
	FromAddr string
	Tips     [][]byte
}

// GetTxRequest asks a peer for one transaction.
type GetTxRequest struct {
	FromAddr string
	Hash     []byte
}

// TxResponse carries the encoded transaction, or nothing when the responder
// does not have it. The requester recomputes the hash; it is never taken from
// the wire.
type TxResponse struct {
	FromAddr string
	Tx       []byte
}

// HaveRequest advertises hashes the sender holds. The responder fetches the
// ones it lacks.
type HaveRequest struct {
	FromAddr string
	Hashes   [][]byte
}

// HaveResponse returns the subset of the advertised hashes that the
// responder did not know.
type HaveResponse struct {
	FromAddr string
	Unknown  [][]byte
}

// PushTxRequest gossips a newly accepted transaction.
type PushTxRequest struct {
	FromAddr string
	Tx       []byte
}

// PushTxResponse reports what the receiver did with a pushed transaction.
// Status and Kind carry the receiver's validation status and error kind;
// Error is empty when the transaction was accepted.
type PushTxResponse struct {
	FromAddr string
	Status   int
	Kind     int
	Error    string
}
