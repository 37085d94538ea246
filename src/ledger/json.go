package ledger

import (
	"fmt"

	"github.com/mosaicnetworks/dagger/src/common"
)

// JSONTransaction is the human-readable form of a Transaction used by the
// HTTP service and the genesis file. Byte fields are 0X-prefixed hex.
type JSONTransaction struct {
	Hash      string      `json:"hash,omitempty"`
	Parents   []string    `json:"parents"`
	Sender    string      `json:"sender"`
	Nonce     uint64      `json:"nonce"`
	Timestamp int64       `json:"timestamp"`
	Payload   JSONPayload `json:"payload"`
	Signature string      `json:"signature"`
}

// JSONPayload flattens the payload variants. Only the fields of Kind are set.
type JSONPayload struct {
	Kind        string           `json:"kind"`
	Recipient   string           `json:"recipient,omitempty"`
	Amount      uint64           `json:"amount,omitempty"`
	Data        string           `json:"data,omitempty"`
	Allocations []JSONAllocation `json:"allocations,omitempty"`
}

// JSONAllocation ...
type JSONAllocation struct {
	Account string `json:"account"`
	Amount  uint64 `json:"amount"`
}

// ToJSON converts a transaction to its JSON form.
func (t *Transaction) ToJSON() (*JSONTransaction, error) {
	payload, err := t.Payload()
	if err != nil {
		return nil, err
	}

	res := &JSONTransaction{
		Hash:      t.Hex(),
		Parents:   make([]string, len(t.Body.Parents)),
		Sender:    common.EncodeToString(t.Body.Sender),
		Nonce:     t.Body.Nonce,
		Timestamp: t.Body.Timestamp,
		Signature: common.EncodeToString(t.Signature),
	}

	for i, p := range t.Body.Parents {
		res.Parents[i] = common.EncodeToString(p)
	}

	res.Payload.Kind = payload.Kind().String()

	switch p := payload.(type) {
	case Transfer:
		res.Payload.Recipient = common.EncodeToString(p.Recipient)
		res.Payload.Amount = p.Amount
	case Data:
		if len(p.Bytes) > 0 {
			res.Payload.Data = common.EncodeToString(p.Bytes)
		}
	case Genesis:
		for _, a := range p.Allocations {
			res.Payload.Allocations = append(res.Payload.Allocations, JSONAllocation{
				Account: common.EncodeToString(a.Account),
				Amount:  a.Amount,
			})
		}
	}

	return res, nil
}

// Transaction converts the JSON form back into a Transaction. The hash is
// recomputed; when Hash is set it must match.
func (j *JSONTransaction) Transaction() (*Transaction, error) {
	parents := make([]Hash, len(j.Parents))
	for i, p := range j.Parents {
		h, err := HashFromString(p)
		if err != nil {
			return nil, fmt.Errorf("parent %d: %v", i, err)
		}
		parents[i] = h
	}

	sender, err := common.DecodeFromString(j.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %v", err)
	}

	payload, err := j.Payload.payload()
	if err != nil {
		return nil, err
	}

	tx, err := NewTransaction(parents, sender, j.Nonce, j.Timestamp, payload)
	if err != nil {
		return nil, err
	}

	if j.Signature != "" {
		sig, err := common.DecodeFromString(j.Signature)
		if err != nil {
			return nil, fmt.Errorf("signature: %v", err)
		}
		tx.Signature = sig
	}

	if j.Hash != "" {
		h, err := HashFromString(j.Hash)
		if err != nil {
			return nil, fmt.Errorf("hash: %v", err)
		}
		if h != tx.Hash() {
			return nil, fmt.Errorf("hash mismatch: got %s, computed %s", h, tx.Hex())
		}
	}

	return tx, nil
}

func (p *JSONPayload) payload() (Payload, error) {
	switch p.Kind {
	case TransferKind.String():
		recipient, err := common.DecodeFromString(p.Recipient)
		if err != nil {
			return nil, fmt.Errorf("recipient: %v", err)
		}
		return Transfer{Recipient: recipient, Amount: p.Amount}, nil
	case DataKind.String():
		var data []byte
		if p.Data != "" {
			var err error
			data, err = common.DecodeFromString(p.Data)
			if err != nil {
				return nil, fmt.Errorf("data: %v", err)
			}
		}
		return Data{Bytes: data}, nil
	case GenesisKind.String():
		g := Genesis{}
		for i, a := range p.Allocations {
			account, err := common.DecodeFromString(a.Account)
			if err != nil {
				return nil, fmt.Errorf("allocation %d: %v", i, err)
			}
			g.Allocations = append(g.Allocations, Allocation{Account: account, Amount: a.Amount})
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown payload kind %q", p.Kind)
	}
}
