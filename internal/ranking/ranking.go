// Package ranking orders dataset entries by distance to a query fingerprint.
package ranking

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/metrics"
)

// DisabledScore replaces the score of entries beyond the cap.
const DisabledScore = -1

var (
	ErrNoFingerprints = errors.New("exact ranking requires dataset fingerprints")
	ErrNoShards       = errors.New("sharded ranking requires loaded shards")
)

// Mode selects the ranking strategy.
type Mode string

const (
	ModeExact   Mode = "exact"
	ModeSharded Mode = "sharded"
)

// Entry is one ranked dataset entry.
type Entry struct {
	Index int     `json:"-"`
	Path  string  `json:"path"`
	ROI   string  `json:"roi"`
	Score float64 `json:"score"`
}

// Candidate is a dataset index with its distance to the query.
type Candidate struct {
	Index    int
	Distance float64
}

// Engine ranks against a dataset that is read-only after load.
type Engine struct {
	index      *dataset.Index
	shards     []*dataset.Shard
	mode       Mode
	maxResults int
	scoreCap   float64
}

// NewEngine creates an engine. Sharded mode needs shards, exact mode needs fingerprints.
// scoreCap <= 0 disables capping.
func NewEngine(index *dataset.Index, shards []*dataset.Shard, mode Mode, maxResults int, scoreCap float64) (*Engine, error) {
	switch mode {
	case ModeExact:
		if !index.HasFingerprints() {
			return nil, ErrNoFingerprints
		}
	case ModeSharded:
		if len(shards) == 0 {
			return nil, ErrNoShards
		}
		if total := dataset.TotalSize(shards); total != index.Len() {
			return nil, fmt.Errorf("%w: shards cover %d entries, dataset has %d", dataset.ErrCorruptDataset, total, index.Len())
		}
	default:
		return nil, fmt.Errorf("unknown ranking mode %q", mode)
	}

	return &Engine{
		index:      index,
		shards:     shards,
		mode:       mode,
		maxResults: maxResults,
		scoreCap:   scoreCap,
	}, nil
}

// Mode returns the configured strategy.
func (e *Engine) Mode() Mode { return e.mode }

// Size returns the number of dataset entries.
func (e *Engine) Size() int { return e.index.Len() }

// Rank returns at most maxResults entries ordered by ascending distance.
func (e *Engine) Rank(query fingerprint.Fingerprint) []Entry {
	start := time.Now()
	defer func() {
		metrics.RankingDuration.WithLabelValues(string(e.mode)).Observe(time.Since(start).Seconds())
	}()

	var cands []Candidate
	if e.mode == ModeSharded {
		cands = Sharded(query, e.shards, e.maxResults)
	} else {
		cands = Exact(query, e.index.Fingerprints, e.maxResults)
	}

	entries := make([]Entry, len(cands))
	for i, c := range cands {
		entries[i] = Entry{
			Index: c.Index,
			Path:  e.index.Paths[c.Index],
			ROI:   e.index.ROIs[c.Index].PolygonString(),
			Score: c.Distance,
		}
	}
	ApplyScoreCap(entries, e.scoreCap)
	return entries
}

// Exact computes the distance to every fingerprint. Ties keep dataset order.
func Exact(query fingerprint.Fingerprint, fps []fingerprint.Fingerprint, maxResults int) []Candidate {
	cands := make([]Candidate, len(fps))
	for i, fp := range fps {
		cands[i] = Candidate{Index: i, Distance: fingerprint.EuclideanDistance(query, fp)}
	}
	return take(cands, maxResults)
}

// ShardK is the number of candidates requested from each of numShards shards.
// The extra candidate makes up for rounding near shard boundaries.
func ShardK(maxResults, numShards int) int {
	if numShards < 1 {
		return 0
	}
	return (maxResults+numShards-1)/numShards + 1
}

// Sharded queries every shard and merges the hits on their global index.
func Sharded(query fingerprint.Fingerprint, shards []*dataset.Shard, maxResults int) []Candidate {
	k := ShardK(maxResults, len(shards))

	var cands []Candidate
	for _, s := range shards {
		for _, hit := range s.Search(query, k) {
			cands = append(cands, Candidate{Index: s.Global(hit), Distance: hit.Distance})
		}
	}
	return take(cands, maxResults)
}

func take(cands []Candidate, maxResults int) []Candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Distance < cands[j].Distance
	})
	if maxResults >= 0 && len(cands) > maxResults {
		cands = cands[:maxResults]
	}
	return cands
}

// ApplyScoreCap relabels entries farther than scoreCap. Order and length are unchanged.
func ApplyScoreCap(entries []Entry, scoreCap float64) {
	if scoreCap <= 0 {
		return
	}
	for i := range entries {
		if entries[i].Score > scoreCap {
			entries[i].Score = DisabledScore
		}
	}
}
