package snapshot

import (
	"fmt"
	"time"

	"github.com/reflexhq/reflex/shared"
)

// quoteRing is a bounded ring buffer of quote updates.
type quoteRing struct {
	data  []shared.Quote
	start int
	count int
	size  int
}

// newQuoteRing initializes a new quote ring with the provided capacity.
func newQuoteRing(size int) (*quoteRing, error) {
	if size <= 0 {
		return nil, fmt.Errorf("quote ring size must be positive: %d", size)
	}

	return &quoteRing{
		data: make([]shared.Quote, size),
		size: size,
	}, nil
}

// Push adds the provided quote to the ring, evicting the oldest entry when
// at capacity.
func (r *quoteRing) Push(quote shared.Quote) {
	end := (r.start + r.count) % r.size
	r.data[end] = quote

	if r.count == r.size {
		r.start = (r.start + 1) % r.size
	} else {
		r.count++
	}
}

// EvictOlder evicts all entries strictly older than the provided cutoff.
func (r *quoteRing) EvictOlder(cutoff time.Time) {
	for r.count > 0 && r.data[r.start].At.Before(cutoff) {
		r.start = (r.start + 1) % r.size
		r.count--
	}
}

// Latest returns the most recent quote in the ring.
func (r *quoteRing) Latest() (shared.Quote, bool) {
	if r.count == 0 {
		return shared.Quote{}, false
	}

	return r.data[(r.start+r.count-1)%r.size], true
}
