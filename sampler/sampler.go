// Package sampler picks which caption rows of an image go into a batch.
//
// An image with fewer captions than requested is oversampled: rows are drawn
// uniformly with replacement from its range. Otherwise a window of
// consecutive rows is taken at a uniformly random offset inside the range.
package sampler

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

// ErrEmptyRange is returned when asked to sample from a range with no rows.
var ErrEmptyRange = errors.New("sampler: empty row range")

// Sampler draws caption rows from a seeded source. It is not safe for
// concurrent use.
type Sampler struct {
	rng *rand.Rand
}

// New creates a Sampler seeded with seed. A zero seed uses the current time.
func New(seed int64) *Sampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// NewWithRand creates a Sampler drawing from rng.
func NewWithRand(rng *rand.Rand) *Sampler {
	return &Sampler{rng: rng}
}

// Rows returns n row indices from the inclusive range [start, end].
func (s *Sampler) Rows(start, end, n int) ([]int, error) {
	ncap := end - start + 1
	if ncap <= 0 {
		return nil, errors.Wrapf(ErrEmptyRange, "[%d, %d]", start, end)
	}
	if n <= 0 {
		return nil, errors.Errorf("sampler: number of rows must be positive, got %d", n)
	}
	rows := make([]int, n)
	if ncap < n {
		for q := range rows {
			rows[q] = start + s.rng.Intn(ncap)
		}
		return rows, nil
	}
	first := start + s.rng.Intn(ncap-n+1)
	for q := range rows {
		rows[q] = first + q
	}
	return rows, nil
}
