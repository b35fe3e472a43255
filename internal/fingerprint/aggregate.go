package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/kozaktomas/face-retrieval/internal/workpool"
	"go.uber.org/zap"
)

// Aggregator extracts fingerprints for a set of faces in parallel and averages them.
type Aggregator struct {
	loader   ImageLoader
	embedder Embedder
	pool     *workpool.Pool
	dim      int
	log      *zap.Logger
}

// NewAggregator creates an aggregator. The pool size is the number of groups items are split into.
func NewAggregator(loader ImageLoader, embedder Embedder, pool *workpool.Pool, dim int, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{
		loader:   loader,
		embedder: embedder,
		pool:     pool,
		dim:      dim,
		log:      log,
	}
}

// Extract computes the fingerprint of a single item.
func (a *Aggregator) Extract(ctx context.Context, item Item) (Fingerprint, error) {
	img, err := a.loader.Load(item.Path)
	if err != nil {
		return nil, err
	}
	face, err := Crop(img, item.ROI)
	if err != nil {
		return nil, err
	}
	fp, err := a.embedder.Embed(ctx, face)
	if err != nil {
		return nil, fmt.Errorf("embedding %s: %w", item.Path, err)
	}
	if len(fp) != a.dim {
		return nil, fmt.Errorf("embedding %s: got %d values, expected %d", item.Path, len(fp), a.dim)
	}
	return fp, nil
}

// Aggregate splits items into one group per pool worker, extracts every group in parallel,
// sums the fingerprints and divides by len(items) before normalizing. Items that fail are
// dropped but still count in the divisor. It fails with ErrExtractionTimeout when the groups
// don't finish within timeout, and ErrEmptyInput when items is empty.
func (a *Aggregator) Aggregate(ctx context.Context, items []Item, timeout time.Duration) (Fingerprint, error) {
	if len(items) == 0 {
		return nil, ErrEmptyInput
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	groups := Partition(items, a.pool.Size())
	results := make(chan *Accumulator, len(groups))

	launched := 0
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		err := a.pool.Go(ctx, func() {
			results <- a.extractGroup(ctx, group)
		})
		if err != nil {
			return nil, a.contextError(ctx, err)
		}
		launched++
	}

	total := NewAccumulator(a.dim)
	for range launched {
		select {
		case acc := <-results:
			total.Merge(acc)
		case <-ctx.Done():
			// Groups still running finish in the background; results is buffered so they never block.
			return nil, a.contextError(ctx, ctx.Err())
		}
	}
	// Groups stop early once ctx ends, so a late finish means partial sums.
	if ctx.Err() != nil {
		return nil, a.contextError(ctx, ctx.Err())
	}

	a.log.Debug("aggregated fingerprints",
		zap.Int("requested", len(items)),
		zap.Int("extracted", total.Count()),
		zap.Int("groups", launched))

	return total.Mean(len(items)), nil
}

func (a *Aggregator) extractGroup(ctx context.Context, group []Item) *Accumulator {
	acc := NewAccumulator(a.dim)
	for _, item := range group {
		if ctx.Err() != nil {
			return acc
		}
		fp, err := a.Extract(ctx, item)
		if err != nil {
			a.log.Warn("dropping training image", zap.String("path", item.Path), zap.Error(err))
			continue
		}
		acc.Add(fp)
	}
	return acc
}

func (a *Aggregator) contextError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrExtractionTimeout
	}
	return fmt.Errorf("aggregating fingerprints: %w", err)
}

// Partition splits items into workers contiguous groups of round(len/workers) items.
// The last group takes whatever remains, so some groups may be empty when items are few.
func Partition(items []Item, workers int) [][]Item {
	if workers < 1 {
		workers = 1
	}
	n := len(items)
	per := int(math.Round(float64(n) / float64(workers)))
	if per == 0 {
		per = 1
	}

	groups := make([][]Item, workers)
	for g := range workers - 1 {
		lo := min(g*per, n)
		hi := min(lo+per, n)
		groups[g] = items[lo:hi]
	}
	groups[workers-1] = items[min((workers-1)*per, n):]
	return groups
}
