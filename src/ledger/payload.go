package ledger

import (
	"fmt"
	"math"
)

// PayloadKind tags the concrete type carried in a transaction body.
type PayloadKind uint8

const (
	// TransferKind moves an amount from the sender to a recipient.
	TransferKind PayloadKind = iota + 1
	// DataKind carries opaque bytes and only consumes a nonce.
	DataKind
	// GenesisKind credits the initial allocations. Only valid on the root.
	GenesisKind
)

// String ...
func (k PayloadKind) String() string {
	switch k {
	case TransferKind:
		return "Transfer"
	case DataKind:
		return "Data"
	case GenesisKind:
		return "Genesis"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(k))
	}
}

// Payload is the instruction carried by a transaction. The set of
// implementations is closed: Transfer, Data and Genesis.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

// Transfer moves Amount from the sender to Recipient.
type Transfer struct {
	Recipient []byte
	Amount    uint64
}

// Data attaches arbitrary bytes to the graph.
type Data struct {
	Bytes []byte
}

// Allocation is an initial balance created by the genesis transaction.
type Allocation struct {
	Account []byte
	Amount  uint64
}

// Genesis lists the balances that exist when the ledger starts.
type Genesis struct {
	Allocations []Allocation
}

// Kind implements Payload.
func (Transfer) Kind() PayloadKind { return TransferKind }

// Kind implements Payload.
func (Data) Kind() PayloadKind { return DataKind }

// Kind implements Payload.
func (Genesis) Kind() PayloadKind { return GenesisKind }

func (Transfer) isPayload() {}
func (Data) isPayload()     {}
func (Genesis) isPayload()  {}

// Total returns the sum of all allocations, or an error if it overflows.
func (g Genesis) Total() (uint64, error) {
	var total uint64
	for _, a := range g.Allocations {
		if a.Amount > math.MaxUint64-total {
			return 0, fmt.Errorf("genesis allocations overflow")
		}
		total += a.Amount
	}
	return total, nil
}

func encodePayload(p Payload) (PayloadKind, []byte, error) {
	if p == nil {
		return 0, nil, fmt.Errorf("nil payload")
	}

	var (
		data []byte
		err  error
	)

	switch v := p.(type) {
	case Transfer:
		if len(v.Recipient) == 0 {
			v.Recipient = nil
		}
		data, err = encode(&v)
	case Data:
		if len(v.Bytes) == 0 {
			v.Bytes = nil
		}
		data, err = encode(&v)
	case Genesis:
		if len(v.Allocations) == 0 {
			v.Allocations = nil
		}
		data, err = encode(&v)
	default:
		return 0, nil, fmt.Errorf("unknown payload type %T", p)
	}

	return p.Kind(), data, err
}

func decodePayload(kind PayloadKind, data []byte) (Payload, error) {
	switch kind {
	case TransferKind:
		var t Transfer
		if err := decode(data, &t); err != nil {
			return nil, err
		}
		return t, nil
	case DataKind:
		var d Data
		if err := decode(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case GenesisKind:
		var g Genesis
		if err := decode(data, &g); err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %d", uint8(kind))
	}
}
