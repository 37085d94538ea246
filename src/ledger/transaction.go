package ledger

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/crypto"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
)

/*******************************************************************************
TransactionBody
*******************************************************************************/

// TransactionBody holds everything that is covered by the transaction hash.
// The payload is kept in its encoded form so that hashing never depends on
// how a decoded payload would be re-encoded.
type TransactionBody struct {
	Parents     [][]byte    //hashes of the approved transactions
	Sender      []byte      //compressed public key of the signer
	Nonce       uint64      //per-sender counter, starting at 1
	Timestamp   int64       //unix nanoseconds
	PayloadKind PayloadKind //tag of Payload
	Payload     []byte      //encoded Transfer, Data or Genesis
}

// Marshal returns the canonical encoding of the body. Empty and nil slices
// encode identically.
func (b *TransactionBody) Marshal() ([]byte, error) {
	body := *b
	if len(body.Parents) == 0 {
		body.Parents = nil
	}
	if len(body.Payload) == 0 {
		body.Payload = nil
	}
	return encode(&body)
}

// Hash returns the digest of the canonical encoding of the body.
func (b *TransactionBody) Hash() (Hash, error) {
	data, err := b.Marshal()
	if err != nil {
		return Hash{}, err
	}
	return Hash(crypto.Hash(data)), nil
}

/*******************************************************************************
Transaction
*******************************************************************************/

// Transaction is a signed TransactionBody. The hash and the decoded payload
// are derived locally when the transaction is built or decoded; they are never
// read from the wire.
type Transaction struct {
	Body      TransactionBody
	Signature []byte //r||s signature of the hash by Sender

	hash       Hash
	hashed     bool
	payload    Payload
	payloadErr error
}

// NewTransaction creates an unsigned transaction.
func NewTransaction(parents []Hash,
	sender []byte,
	nonce uint64,
	timestamp int64,
	payload Payload) (*Transaction, error) {

	kind, data, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Body: TransactionBody{
			Parents:     hashesToBytes(parents),
			Sender:      sender,
			Nonce:       nonce,
			Timestamp:   timestamp,
			PayloadKind: kind,
			Payload:     data,
		},
		payload: payload,
	}

	if err := tx.computeHash(); err != nil {
		return nil, err
	}

	return tx, nil
}

func (t *Transaction) computeHash() error {
	h, err := t.Body.Hash()
	if err != nil {
		return err
	}
	t.hash = h
	t.hashed = true
	return nil
}

// Hash returns the transaction hash.
func (t *Transaction) Hash() Hash {
	if !t.hashed {
		t.computeHash()
	}
	return t.hash
}

// Hex returns the string form of the hash.
func (t *Transaction) Hex() string {
	return t.Hash().String()
}

// Parents returns the parent hashes. Malformed entries are skipped; the
// Validator rejects such transactions before they reach the graph.
func (t *Transaction) Parents() []Hash {
	res := make([]Hash, 0, len(t.Body.Parents))
	for _, p := range t.Body.Parents {
		h, err := HashFromBytes(p)
		if err != nil {
			continue
		}
		res = append(res, h)
	}
	return res
}

// Sender returns the sender's public key bytes.
func (t *Transaction) Sender() []byte {
	return t.Body.Sender
}

// SenderHex returns the hex form of the sender's public key.
func (t *Transaction) SenderHex() string {
	return common.EncodeToString(t.Body.Sender)
}

// Nonce ...
func (t *Transaction) Nonce() uint64 {
	return t.Body.Nonce
}

// Timestamp ...
func (t *Transaction) Timestamp() int64 {
	return t.Body.Timestamp
}

// IsRoot reports whether the transaction has no parents.
func (t *Transaction) IsRoot() bool {
	return len(t.Body.Parents) == 0
}

// Payload returns the decoded payload.
func (t *Transaction) Payload() (Payload, error) {
	if t.payload == nil && t.payloadErr == nil {
		t.payload, t.payloadErr = decodePayload(t.Body.PayloadKind, t.Body.Payload)
	}
	return t.payload, t.payloadErr
}

// Sign signs the hash with the private key and sets the signature.
func (t *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	h := t.Hash()
	sig, err := keys.Sign(privKey, h[:])
	if err != nil {
		return err
	}
	t.Signature = sig
	return nil
}

// Verify checks the signature against the sender and the recomputed hash. A
// *keys.CryptoError means the key or signature bytes are malformed.
func (t *Transaction) Verify() (bool, error) {
	h := t.Hash()
	return keys.Verify(t.Body.Sender, h[:], t.Signature)
}

// wireTransaction is the encoded form of a Transaction.
type wireTransaction struct {
	Body      TransactionBody
	Signature []byte
}

// Marshal returns the binary encoding of the signed transaction.
func (t *Transaction) Marshal() ([]byte, error) {
	return encode(&wireTransaction{
		Body:      t.Body,
		Signature: t.Signature,
	})
}

// Unmarshal decodes a signed transaction and recomputes its hash. The payload
// is decoded as well; a payload that cannot be decoded is reported by
// Payload() rather than here, so that the transaction can be rejected with a
// reason.
func (t *Transaction) Unmarshal(data []byte) error {
	var w wireTransaction
	if err := decode(data, &w); err != nil {
		return err
	}

	t.Body = w.Body
	t.Signature = w.Signature
	t.payload = nil
	t.payloadErr = nil

	if err := t.computeHash(); err != nil {
		return err
	}

	t.Payload()

	return nil
}

// UnmarshalTransaction is a helper around Transaction.Unmarshal.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	tx := new(Transaction)
	if err := tx.Unmarshal(data); err != nil {
		return nil, err
	}
	return tx, nil
}

// String ...
func (t *Transaction) String() string {
	return fmt.Sprintf("tx %s sender %s nonce %d kind %s",
		t.Hex(), t.SenderHex(), t.Body.Nonce, t.Body.PayloadKind)
}
