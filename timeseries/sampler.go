package timeseries

import (
	"fmt"
	"math/rand"
)

// Sampler yields the item order for one pass over a dataset.
type Sampler interface {
	// Indices returns the item indices for the current epoch.
	Indices() []int
	// Len returns the number of indices per epoch.
	Len() int
}

// SequentialSampler visits items in natural order.
type SequentialSampler struct {
	n int
}

// NewSequentialSampler samples [0, n) in order.
func NewSequentialSampler(n int) *SequentialSampler { return &SequentialSampler{n: n} }

func (s *SequentialSampler) Len() int { return s.n }

func (s *SequentialSampler) Indices() []int {
	out := make([]int, s.n)
	for i := range out {
		out[i] = i
	}
	return out
}

// RandomSampler visits items in a seeded random permutation, reshuffled per
// epoch via SetEpoch.
type RandomSampler struct {
	n     int
	seed  int64
	epoch int
}

// NewRandomSampler samples a permutation of [0, n) derived from seed.
func NewRandomSampler(n int, seed int64) *RandomSampler {
	return &RandomSampler{n: n, seed: seed}
}

func (s *RandomSampler) Len() int { return s.n }

// SetEpoch changes the permutation for the next pass.
func (s *RandomSampler) SetEpoch(epoch int) { s.epoch = epoch }

func (s *RandomSampler) Indices() []int {
	return rand.New(rand.NewSource(s.seed + int64(s.epoch))).Perm(s.n)
}

// DistributedSampler partitions item indices round-robin across numReplicas
// shards without overlap; shard r sees indices r, r+numReplicas, ... of the
// (optionally shuffled) base order. The caller injects its rank; this
// package never owns process-group lifecycle.
type DistributedSampler struct {
	n           int
	numReplicas int
	rank        int
	shuffle     bool
	seed        int64
	epoch       int
}

// NewDistributedSampler builds the shard-local sampler for rank out of
// numReplicas shards over n items.
func NewDistributedSampler(n, numReplicas, rank int, shuffle bool, seed int64) (*DistributedSampler, error) {
	if numReplicas < 1 {
		return nil, fmt.Errorf("num_replicas must be >= 1, got %d", numReplicas)
	}
	if rank < 0 || rank >= numReplicas {
		return nil, fmt.Errorf("rank %d out of range for %d replicas", rank, numReplicas)
	}
	return &DistributedSampler{n: n, numReplicas: numReplicas, rank: rank, shuffle: shuffle, seed: seed}, nil
}

// NumReplicas returns the shard count.
func (s *DistributedSampler) NumReplicas() int { return s.numReplicas }

// Rank returns this shard's rank.
func (s *DistributedSampler) Rank() int { return s.rank }

// SetEpoch changes the shuffle permutation for the next pass. All shards
// must call it with the same value to keep partitions disjoint.
func (s *DistributedSampler) SetEpoch(epoch int) { s.epoch = epoch }

// Len returns the number of indices this shard sees per epoch.
func (s *DistributedSampler) Len() int {
	count := s.n / s.numReplicas
	if s.rank < s.n%s.numReplicas {
		count++
	}
	return count
}

func (s *DistributedSampler) Indices() []int {
	base := make([]int, s.n)
	for i := range base {
		base[i] = i
	}
	if s.shuffle {
		rand.New(rand.NewSource(s.seed + int64(s.epoch))).Shuffle(s.n, func(i, j int) {
			base[i], base[j] = base[j], base[i]
		})
	}
	out := make([]int, 0, s.Len())
	for i := s.rank; i < s.n; i += s.numReplicas {
		out = append(out, base[i])
	}
	return out
}
