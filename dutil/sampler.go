package dutil

import (
	"math/rand"

	"github.com/pkg/errors"
)

// BatchSampler yields batches of dataset indices.
type BatchSampler struct {
	n         int
	batchSize int
	dropLast  bool
	shuffle   bool
	rng       *rand.Rand

	indices []int
	pos     int
}

// NewBatchSampler creates a BatchSampler over `n` items.
// If dropLast is true, the final incomplete batch is skipped.
func NewBatchSampler(n, batchSize int, dropLast, shuffle bool, seedOpt ...int64) (*BatchSampler, error) {
	if n <= 0 {
		return nil, errors.Errorf("invalid number of items: %v", n)
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("invalid batch size: %v", batchSize)
	}

	var seed int64 = 1
	if len(seedOpt) > 0 {
		seed = seedOpt[0]
	}

	s := &BatchSampler{
		n:         n,
		batchSize: batchSize,
		dropLast:  dropLast,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
	}
	s.Reset()

	return s, nil
}

// Reset starts a new pass, reshuffling if needed.
func (s *BatchSampler) Reset() {
	s.indices = make([]int, s.n)
	for i := range s.indices {
		s.indices[i] = i
	}
	if s.shuffle {
		s.rng.Shuffle(len(s.indices), func(i, j int) {
			s.indices[i], s.indices[j] = s.indices[j], s.indices[i]
		})
	}
	s.pos = 0
}

// HasNext reports whether another batch is available in the current pass.
func (s *BatchSampler) HasNext() bool {
	remain := s.n - s.pos
	if s.dropLast {
		return remain >= s.batchSize
	}
	return remain > 0
}

// Next returns the next batch of indices.
func (s *BatchSampler) Next() ([]int, error) {
	if !s.HasNext() {
		return nil, errors.New("sampler exhausted")
	}
	end := s.pos + s.batchSize
	if end > s.n {
		end = s.n
	}
	batch := make([]int, end-s.pos)
	copy(batch, s.indices[s.pos:end])
	s.pos = end

	return batch, nil
}

// Len returns number of batches per pass.
func (s *BatchSampler) Len() int {
	if s.dropLast {
		return s.n / s.batchSize
	}
	return (s.n + s.batchSize - 1) / s.batchSize
}
