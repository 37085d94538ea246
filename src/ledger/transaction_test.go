package ledger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestTransactionHashIgnoresSignature(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)

	tx, err := NewTransaction(nil, alice.pub, 1, 10, Transfer{Recipient: bob.pub, Amount: 5})
	if err != nil {
		t.Fatal(err)
	}
	before := tx.Hash()

	if err := tx.Sign(alice.key); err != nil {
		t.Fatal(err)
	}

	if tx.Hash() != before {
		t.Fatalf("signing should not change the hash")
	}

	ok, err := tx.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("signature should verify")
	}
}

func TestTransactionHashCoversBody(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)

	a := alice.newTx(t, nil, 1, 10, Transfer{Recipient: bob.pub, Amount: 5})
	b := alice.newTx(t, nil, 1, 10, Transfer{Recipient: bob.pub, Amount: 6})
	c := alice.newTx(t, nil, 2, 10, Transfer{Recipient: bob.pub, Amount: 5})
	d := alice.newTx(t, []Hash{a.Hash()}, 1, 10, Transfer{Recipient: bob.pub, Amount: 5})

	seen := map[Hash]bool{}
	for _, tx := range []*Transaction{a, b, c, d} {
		if seen[tx.Hash()] {
			t.Fatalf("distinct bodies should have distinct hashes")
		}
		seen[tx.Hash()] = true
	}
}

func TestTransactionWireDecoding(t *testing.T) {
	alice := newTestAccount(t)

	root := alice.newTx(t, nil, 1, 10, Data{})
	child := alice.newTx(t, []Hash{root.Hash()}, 2, 11, Data{Bytes: []byte("hello")})

	for _, tx := range []*Transaction{root, child} {
		data, err := tx.Marshal()
		if err != nil {
			t.Fatal(err)
		}

		decoded, err := UnmarshalTransaction(data)
		if err != nil {
			t.Fatal(err)
		}

		if decoded.Hash() != tx.Hash() {
			t.Fatalf("decoded hash %s should be %s", decoded.Hash(), tx.Hash())
		}

		ok, err := decoded.Verify()
		if err != nil || !ok {
			t.Fatalf("decoded transaction should verify: %v", err)
		}
	}

	p, err := child.Payload()
	if err != nil {
		t.Fatal(err)
	}
	if d, ok := p.(Data); !ok || !bytes.Equal(d.Bytes, []byte("hello")) {
		t.Fatalf("payload should be Data(hello), not %#v", p)
	}
}

func TestTransactionTamperedSignature(t *testing.T) {
	alice := newTestAccount(t)
	mallory := newTestAccount(t)

	tx := alice.newTx(t, nil, 1, 10, Data{})

	forged, err := NewTransaction(nil, alice.pub, 1, 10, Data{})
	if err != nil {
		t.Fatal(err)
	}
	if err := forged.Sign(mallory.key); err != nil {
		t.Fatal(err)
	}

	ok, err := forged.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("a signature by another key should not verify")
	}

	tx.Signature = tx.Signature[:10]
	if _, err := tx.Verify(); err == nil {
		t.Fatalf("a truncated signature should be a crypto error")
	}
}

func TestTransactionJSON(t *testing.T) {
	alice := newTestAccount(t)
	bob := newTestAccount(t)

	root := alice.newTx(t, nil, 1, 10, Genesis{Allocations: []Allocation{
		{Account: alice.pub, Amount: 100},
		{Account: bob.pub, Amount: 50},
	}})
	transfer := alice.newTx(t, []Hash{root.Hash()}, 2, 11, Transfer{Recipient: bob.pub, Amount: 7})

	for _, tx := range []*Transaction{root, transfer} {
		j, err := tx.ToJSON()
		if err != nil {
			t.Fatal(err)
		}

		raw, err := json.Marshal(j)
		if err != nil {
			t.Fatal(err)
		}

		var parsed JSONTransaction
		if err := json.Unmarshal(raw, &parsed); err != nil {
			t.Fatal(err)
		}

		back, err := parsed.Transaction()
		if err != nil {
			t.Fatal(err)
		}

		if back.Hash() != tx.Hash() {
			t.Fatalf("JSON conversion changed the hash of %s", tx.Hex())
		}
		if !bytes.Equal(back.Signature, tx.Signature) {
			t.Fatalf("JSON conversion changed the signature")
		}
	}
}

func TestGenesisTotalOverflow(t *testing.T) {
	g := Genesis{Allocations: []Allocation{
		{Amount: ^uint64(0)},
		{Amount: 1},
	}}
	if _, err := g.Total(); err == nil {
		t.Fatalf("overflowing allocations should fail")
	}
}
