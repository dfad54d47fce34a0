package domain

import (
	"fmt"
	"hash/fnv"

	"github.com/zeebo/xxh3"
)

const (
	bucketModulus = 10_000_000
	bucketScale   = 100_000
)

// Strategy selects the hash family used for bucketing. The set is closed:
// every experiment records its strategy at creation so the mapping from user
// to bucket never changes under it.
type Strategy string

const (
	StrategyXXH3  Strategy = "xxh3"
	StrategyFNV1a Strategy = "fnv1a"

	DefaultStrategy = StrategyXXH3
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyXXH3, StrategyFNV1a:
		return true
	}
	return false
}

// ParseStrategy maps an empty string to DefaultStrategy.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return DefaultStrategy, nil
	}
	strategy := Strategy(s)
	if !strategy.Valid() {
		return "", &ValidationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
	}
	return strategy, nil
}

func (s Strategy) sum(key string) (uint64, error) {
	switch s {
	case StrategyXXH3:
		return xxh3.HashString(key), nil
	case StrategyFNV1a:
		h := fnv.New64a()
		_, _ = h.Write([]byte(key))
		return h.Sum64(), nil
	default:
		return 0, fmt.Errorf("unknown bucketing strategy %q", s)
	}
}

// Bucket maps a user onto [0, 100) for the given experiment. The key is the
// user ID followed by the experiment ID, so the same user lands in unrelated
// buckets across experiments.
func Bucket(strategy Strategy, experimentID, userID string) (float64, error) {
	h, err := strategy.sum(userID + experimentID)
	if err != nil {
		return 0, err
	}
	return float64(h%bucketModulus) / bucketScale, nil
}

// Resolve picks the variant for userID. It is a pure function of the
// experiment configuration and the user ID.
func Resolve(exp *Experiment, userID string) (*Variant, float64, error) {
	variants := exp.OrderedVariants()
	if len(variants) == 0 {
		return nil, 0, &NoVariantsError{ExperimentID: exp.ID}
	}

	p, err := Bucket(exp.Strategy, exp.ID, userID)
	if err != nil {
		return nil, 0, err
	}

	return pick(variants, p), p, nil
}

func pick(variants []*Variant, p float64) *Variant {
	var cumulative float64
	for _, v := range variants {
		cumulative += v.TrafficAllocation
		if cumulative > p {
			return v
		}
	}
	// Float drift can leave the cumulative sum a hair under p at the tail.
	return variants[len(variants)-1]
}
