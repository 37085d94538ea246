package ledger

import (
	"bytes"
	"math"

	cm "github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/crypto/keys"
)

// Status is the outcome of validating a transaction.
type Status int

const (
	// Accepted means the transaction can be inserted in the graph.
	Accepted Status = iota
	// Deferred means some parents are not in the store yet.
	Deferred
	// Rejected means the transaction is invalid; see the ValidationError.
	Rejected
)

// String ...
func (s Status) String() string {
	switch s {
	case Accepted:
		return "Accepted"
	case Deferred:
		return "Deferred"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Verdict is the result of Validator.Validate.
type Verdict struct {
	Status Status
	Err    *ValidationError
	// Missing lists the parents that are not in the store when Deferred.
	Missing []Hash
	// Conflict is the existing (sender, nonce) set the transaction
	// double-spends, if any.
	Conflict *ConflictSet
}

func rejected(kind ErrorKind, tx *Transaction, format string, args ...interface{}) *Verdict {
	return &Verdict{
		Status: Rejected,
		Err:    NewValidationError(kind, tx.Hash(), format, args...),
	}
}

// Validator checks candidate transactions against the store and the account
// state. It never writes anything.
type Validator struct {
	store      Store
	accounts   *AccountState
	maxParents int
}

// NewValidator ...
func NewValidator(store Store, accounts *AccountState, maxParents int) *Validator {
	return &Validator{
		store:      store,
		accounts:   accounts,
		maxParents: maxParents,
	}
}

// Validate runs the checks in order and reports the first failure. The
// returned error is only set when the store fails.
func (v *Validator) Validate(tx *Transaction) (*Verdict, error) {
	if verdict := v.checkStructure(tx); verdict != nil {
		return verdict, nil
	}

	if verdict := v.checkSignature(tx); verdict != nil {
		return verdict, nil
	}

	parents, missing, err := v.fetchParents(tx)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return &Verdict{
			Status:  Deferred,
			Err:     NewValidationError(MissingParent, tx.Hash(), "%d missing parents", len(missing)),
			Missing: missing,
		}, nil
	}

	verdict, err := v.checkCycle(tx)
	if verdict != nil || err != nil {
		return verdict, err
	}

	for _, p := range parents {
		if tx.Timestamp() < p.Timestamp() {
			return rejected(TimestampRegression, tx,
				"timestamp %d precedes parent %s at %d", tx.Timestamp(), p.Hex(), p.Timestamp()), nil
		}
	}

	conflict, verdict, err := v.checkNonce(tx)
	if verdict != nil || err != nil {
		return verdict, err
	}

	if verdict, err := v.checkBalance(tx, conflict); verdict != nil || err != nil {
		return verdict, err
	}

	return &Verdict{
		Status:   Accepted,
		Conflict: conflict,
	}, nil
}

func (v *Validator) checkStructure(tx *Transaction) *Verdict {
	payload, err := tx.Payload()
	if err != nil {
		return rejected(Malformed, tx, "payload: %v", err)
	}

	if len(tx.Body.Parents) > v.maxParents {
		return rejected(Malformed, tx, "%d parents, at most %d allowed", len(tx.Body.Parents), v.maxParents)
	}

	seen := make(map[string]bool, len(tx.Body.Parents))
	for _, p := range tx.Body.Parents {
		if len(p) != len(Hash{}) {
			return rejected(Malformed, tx, "parent hash of %d bytes", len(p))
		}
		if seen[string(p)] {
			return rejected(Malformed, tx, "duplicate parent %s", cm.EncodeToString(p))
		}
		seen[string(p)] = true
	}

	if tx.Nonce() == 0 {
		return rejected(Malformed, tx, "nonce must start at 1")
	}

	if tx.IsRoot() && v.store.Len() > 0 {
		return rejected(InvalidGenesis, tx, "parentless transaction on a non-empty graph")
	}

	switch p := payload.(type) {
	case Transfer:
		if len(p.Recipient) != keys.PublicKeySize {
			return rejected(Malformed, tx, "recipient key of %d bytes", len(p.Recipient))
		}
	case Data:
	case Genesis:
		if !tx.IsRoot() {
			return rejected(InvalidGenesis, tx, "genesis payload on a transaction with parents")
		}
		if _, err := p.Total(); err != nil {
			return rejected(Malformed, tx, "%v", err)
		}
		for _, a := range p.Allocations {
			if len(a.Account) != keys.PublicKeySize {
				return rejected(Malformed, tx, "allocation key of %d bytes", len(a.Account))
			}
		}
	}

	return nil
}

func (v *Validator) checkSignature(tx *Transaction) *Verdict {
	ok, err := tx.Verify()
	if err != nil {
		return rejected(CryptoError, tx, "%v", err)
	}
	if !ok {
		return rejected(InvalidSignature, tx, "signature does not match sender %s", tx.SenderHex())
	}
	return nil
}

func (v *Validator) fetchParents(tx *Transaction) ([]*Transaction, []Hash, error) {
	var (
		parents []*Transaction
		missing []Hash
	)

	for _, h := range tx.Parents() {
		p, err := v.store.Get(h)
		if err != nil {
			if cm.IsStore(err, cm.KeyNotFound) {
				missing = append(missing, h)
				continue
			}
			return nil, nil, err
		}
		parents = append(parents, p)
	}

	return parents, missing, nil
}

// checkCycle catches a transaction that references itself, or whose hash is
// already referenced by stored transactions. Hashes are content derived, so
// no other cycle can be built without a hash collision.
func (v *Validator) checkCycle(tx *Transaction) (*Verdict, error) {
	h := tx.Hash()

	for _, p := range tx.Parents() {
		if p == h {
			return rejected(CycleDetected, tx, "transaction references itself"), nil
		}
	}

	children, err := v.store.Children(h)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 {
		return rejected(CycleDetected, tx, "already approved by %s", children[0]), nil
	}

	return nil, nil
}

func (v *Validator) checkNonce(tx *Transaction) (*ConflictSet, *Verdict, error) {
	last := v.accounts.NonceOf(tx.Sender())

	if tx.Nonce() == last+1 {
		return nil, nil, nil
	}

	if tx.Nonce() <= last {
		set, err := v.store.ConflictSet(tx.Sender(), tx.Nonce())
		if err == nil {
			return set, nil, nil
		}
		if !cm.IsStore(err, cm.KeyNotFound) {
			return nil, nil, err
		}
	}

	return nil, rejected(InvalidNonce, tx, "nonce %d, expected %d", tx.Nonce(), last+1), nil
}

// checkBalance verifies a transfer against the sender's balance. A
// double-spend is measured against the balance the sender had before the
// sibling currently applied.
func (v *Validator) checkBalance(tx *Transaction, conflict *ConflictSet) (*Verdict, error) {
	payload, _ := tx.Payload()

	switch p := payload.(type) {
	case Transfer:
		balance := v.accounts.BalanceOf(tx.Sender())

		if conflict != nil && len(conflict.Leader) > 0 {
			refund, err := v.leaderAmount(conflict)
			if err != nil {
				return nil, err
			}
			if balance > math.MaxUint64-refund {
				balance = math.MaxUint64
			} else {
				balance += refund
			}
		}

		if p.Amount > balance {
			return rejected(InsufficientBalance, tx, "transfer of %d, balance %d", p.Amount, balance), nil
		}

		if !bytes.Equal(p.Recipient, tx.Sender()) &&
			v.accounts.BalanceOf(p.Recipient) > math.MaxUint64-p.Amount {
			return rejected(Malformed, tx, "credit of %d overflows recipient", p.Amount), nil
		}
	case Data:
	case Genesis:
	}

	return nil, nil
}

// leaderAmount is what the current leader of a conflict took from the
// sender's balance. Self transfers move nothing.
func (v *Validator) leaderAmount(conflict *ConflictSet) (uint64, error) {
	leader, err := v.store.Get(conflict.LeaderHash())
	if err != nil {
		return 0, err
	}
	payload, err := leader.Payload()
	if err != nil {
		return 0, err
	}
	if t, ok := payload.(Transfer); ok && !bytes.Equal(t.Recipient, leader.Sender()) {
		return t.Amount, nil
	}
	return 0, nil
}
