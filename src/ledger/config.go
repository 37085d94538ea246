package ledger

import "time"

const (
	// DefaultFinalityThreshold is the weight a transaction must exceed to be
	// confirmed.
	DefaultFinalityThreshold uint64 = 10
	// DefaultMaxParents bounds the number of parents of a transaction.
	DefaultMaxParents = 8
	// DefaultPendingLimit bounds the number of Deferred transactions held.
	DefaultPendingLimit = 10000
	// DefaultPendingTTL is how long a Deferred transaction is held.
	DefaultPendingTTL = 5 * time.Minute
	// DefaultWeightBatchSize is the number of ancestors updated per store
	// commit during weight propagation.
	DefaultWeightBatchSize = 1000
)

// Config holds the parameters of the Graph. Every node of a network must use
// the same FinalityThreshold.
type Config struct {
	FinalityThreshold uint64
	MaxParents        int
	PendingLimit      int
	PendingTTL        time.Duration
	WeightBatchSize   int
}

// DefaultConfig ...
func DefaultConfig() *Config {
	return &Config{
		FinalityThreshold: DefaultFinalityThreshold,
		MaxParents:        DefaultMaxParents,
		PendingLimit:      DefaultPendingLimit,
		PendingTTL:        DefaultPendingTTL,
		WeightBatchSize:   DefaultWeightBatchSize,
	}
}
