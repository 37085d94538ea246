// Package ledger implements the transaction graph at the heart of a dagger
// node.
//
// Transactions reference one or more earlier transactions, their parents, and
// together form a directed acyclic graph rooted at a single genesis
// transaction. Each new transaction approves every one of its ancestors, so
// the weight of a transaction (one for itself plus one per distinct
// descendant) grows as the graph grows. A transaction is confirmed once its
// weight exceeds the configured finality threshold.
//
// The package is organised around a few collaborating types:
//
//   - Store persists transactions, the children index, the tip set, weights,
//     account records and conflict sets. Every insertion is one atomic
//     commit. InmemStore and BadgerStore implement it.
//   - Validator checks candidate transactions against the Store and the
//     AccountState without side effects.
//   - AccountState caches balance and last nonce per account, and can be
//     replayed from the graph in a canonical order.
//   - Graph owns the single mutation path: it validates, commits, propagates
//     weight, arbitrates double-spends and holds transactions whose parents
//     are not known yet.
//
// Two transactions from the same sender with the same nonce form a conflict
// set. The member with the highest weight leads, ties going to the smaller
// hash, and only the leader's effects reach the AccountState. A set is frozen
// once its leader's weight exceeds the finality threshold.
package ledger
