package ranking

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-retrieval/internal/dataset"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

func testIndex(vectors ...fingerprint.Fingerprint) *dataset.Index {
	idx := &dataset.Index{}
	for i, v := range vectors {
		idx.Paths = append(idx.Paths, fmt.Sprintf("img/%d.jpg", i))
		idx.ROIs = append(idx.ROIs, facematch.Box{X1: 1, Y1: 2, X2: 3, Y2: 4})
		idx.Fingerprints = append(idx.Fingerprints, v)
	}
	return idx
}

func line(n int) *dataset.Index {
	vectors := make([]fingerprint.Fingerprint, n)
	for i := range n {
		vectors[i] = fingerprint.Fingerprint{float32(i), 0}
	}
	return testIndex(vectors...)
}

func TestExact_QueryEqualToEntryRanksFirst(t *testing.T) {
	idx := testIndex(
		fingerprint.Fingerprint{1, 0},
		fingerprint.Fingerprint{0, 1},
		fingerprint.Fingerprint{0.6, 0.8},
		fingerprint.Fingerprint{-1, 0},
		fingerprint.Fingerprint{0, -1},
	)
	e, err := NewEngine(idx, nil, ModeExact, 10, 0)
	require.NoError(t, err)

	entries := e.Rank(fingerprint.Fingerprint{0.6, 0.8})

	require.Len(t, entries, 5)
	assert.Equal(t, 2, entries[0].Index)
	assert.Equal(t, "img/2.jpg", entries[0].Path)
	assert.InDelta(t, 0, entries[0].Score, 1e-9)
	for i := 1; i < len(entries); i++ {
		assert.LessOrEqual(t, entries[i-1].Score, entries[i].Score)
	}
}

func TestExact_TiesKeepDatasetOrder(t *testing.T) {
	fps := []fingerprint.Fingerprint{{5, 0}, {1, 0}, {5, 0}, {1, 0}}

	cands := Exact(fingerprint.Fingerprint{0, 0}, fps, 10)

	got := make([]int, len(cands))
	for i, c := range cands {
		got[i] = c.Index
	}
	assert.Equal(t, []int{1, 3, 0, 2}, got)
}

func TestExact_TakesMaxResults(t *testing.T) {
	cands := Exact(fingerprint.Fingerprint{0, 0}, line(10).Fingerprints, 3)
	require.Len(t, cands, 3)
	assert.Equal(t, 2, cands[2].Index)
}

func TestShardK(t *testing.T) {
	tests := []struct {
		maxResults, shards, want int
	}{
		{4, 2, 3},
		{5, 2, 4},
		{1000, 3, 335},
		{1, 4, 2},
		{4, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShardK(tt.maxResults, tt.shards), "ShardK(%d, %d)", tt.maxResults, tt.shards)
	}
}

func TestSharded_FillsMaxResults(t *testing.T) {
	idx := line(5)
	shards, err := dataset.BuildShards(context.Background(), idx, 3, workpool.New(2))
	require.NoError(t, err)
	require.Len(t, shards, 2)

	cands := Sharded(fingerprint.Fingerprint{2.9, 0}, shards, 4)

	require.Len(t, cands, 4)
	assert.Equal(t, 3, cands[0].Index)
	assert.Equal(t, 2, cands[1].Index)
	seen := map[int]bool{}
	for _, c := range cands {
		assert.False(t, seen[c.Index], "duplicate index %d", c.Index)
		seen[c.Index] = true
		assert.InDelta(t, fingerprint.EuclideanDistance(fingerprint.Fingerprint{2.9, 0}, idx.Fingerprints[c.Index]), c.Distance, 1e-6)
	}
}

func unitVectors(rng *rand.Rand, n, dim int) []fingerprint.Fingerprint {
	out := make([]fingerprint.Fingerprint, n)
	for i := range out {
		v := make(fingerprint.Fingerprint, dim)
		var norm float64
		for j := range v {
			v[j] = float32(rng.NormFloat64())
			norm += float64(v[j]) * float64(v[j])
		}
		for j := range v {
			v[j] /= float32(math.Sqrt(norm))
		}
		out[i] = v
	}
	return out
}

// perShardExact runs Exact on every shard range and merges like Sharded.
func perShardExact(query fingerprint.Fingerprint, idx *dataset.Index, shards []*dataset.Shard, maxResults int) []Candidate {
	k := ShardK(maxResults, len(shards))
	var cands []Candidate
	for _, s := range shards {
		for _, c := range Exact(query, idx.Fingerprints[s.Offset:s.Offset+s.N], k) {
			cands = append(cands, Candidate{Index: c.Index + s.Offset, Distance: c.Distance})
		}
	}
	return take(cands, maxResults)
}

func TestSharded_MatchesPerShardExact(t *testing.T) {
	const maxResults = 20
	rng := rand.New(rand.NewPCG(7, 11))
	idx := testIndex(unitVectors(rng, 1000, 16)...)

	shards, err := dataset.BuildShards(context.Background(), idx, 500, workpool.New(2))
	require.NoError(t, err)
	require.Len(t, shards, 2)

	for range 20 {
		query := unitVectors(rng, 1, 16)[0]
		assert.Equal(t, perShardExact(query, idx, shards, maxResults), Sharded(query, shards, maxResults))
	}

	// An entry's own vector ranks it first.
	for _, i := range []int{0, 499, 500, 999} {
		got := Sharded(idx.Fingerprints[i], shards, maxResults)
		require.NotEmpty(t, got)
		assert.Equal(t, i, got[0].Index)
		assert.Zero(t, got[0].Distance)
	}
}

func TestSharded_GraphSearch(t *testing.T) {
	const maxResults = 20
	rng := rand.New(rand.NewPCG(5, 9))
	idx := testIndex(unitVectors(rng, 1000, 16)...)

	params := dataset.GraphParams{M: 32, EfSearch: 256, Approximate: true}
	shards, err := dataset.BuildShardsFunc(context.Background(), idx, 500, workpool.New(2), params, nil)
	require.NoError(t, err)

	var found, total int
	for range 20 {
		query := unitVectors(rng, 1, 16)[0]
		got := Sharded(query, shards, maxResults)
		require.Len(t, got, maxResults)

		hit := map[int]bool{}
		for i, c := range got {
			assert.False(t, hit[c.Index], "duplicate index %d", c.Index)
			hit[c.Index] = true
			assert.Equal(t, fingerprint.EuclideanDistance(query, idx.Fingerprints[c.Index]), c.Distance)
			if i > 0 {
				assert.LessOrEqual(t, got[i-1].Distance, c.Distance)
			}
		}
		for _, c := range perShardExact(query, idx, shards, maxResults) {
			if hit[c.Index] {
				found++
			}
			total++
		}
	}
	t.Logf("graph search recall %.3f", float64(found)/float64(total))
}

func TestEngine_ShardedTranslatesOffsets(t *testing.T) {
	idx := line(6)
	shards, err := dataset.BuildShards(context.Background(), idx, 2, workpool.New(3))
	require.NoError(t, err)

	e, err := NewEngine(idx, shards, ModeSharded, 2, 0)
	require.NoError(t, err)

	entries := e.Rank(fingerprint.Fingerprint{5, 0})
	require.Len(t, entries, 2)
	assert.Equal(t, "img/5.jpg", entries[0].Path)
	assert.Equal(t, "img/4.jpg", entries[1].Path)
}

func TestApplyScoreCap_RelabelsWithoutReordering(t *testing.T) {
	entries := []Entry{
		{Path: "a", Score: 0.2},
		{Path: "b", Score: 0.95},
		{Path: "c", Score: 1.3},
	}

	ApplyScoreCap(entries, 0.9)

	assert.Equal(t, []string{"a", "b", "c"}, []string{entries[0].Path, entries[1].Path, entries[2].Path})
	assert.InDelta(t, 0.2, entries[0].Score, 1e-9)
	assert.Equal(t, float64(DisabledScore), entries[1].Score)
	assert.Equal(t, float64(DisabledScore), entries[2].Score)
}

func TestApplyScoreCap_Disabled(t *testing.T) {
	entries := []Entry{{Score: 5}}
	ApplyScoreCap(entries, 0)
	assert.InDelta(t, 5, entries[0].Score, 1e-9)
}

func TestEngine_RankReportsPolygonAndCap(t *testing.T) {
	e, err := NewEngine(line(3), nil, ModeExact, 3, 1.5)
	require.NoError(t, err)

	entries := e.Rank(fingerprint.Fingerprint{0, 0})

	require.Len(t, entries, 3)
	assert.Equal(t, "1.00_2.00_3.00_2.00_3.00_4.00_1.00_4.00_1.00_2.00", entries[0].ROI)
	assert.InDelta(t, 1, entries[1].Score, 1e-9)
	assert.Equal(t, float64(DisabledScore), entries[2].Score)
	assert.Equal(t, "img/2.jpg", entries[2].Path)
}

func TestNewEngine_Validation(t *testing.T) {
	stripped := &dataset.Index{Paths: []string{"a"}, ROIs: []facematch.Box{{}}}

	_, err := NewEngine(stripped, nil, ModeExact, 10, 0)
	assert.ErrorIs(t, err, ErrNoFingerprints)

	_, err = NewEngine(stripped, nil, ModeSharded, 10, 0)
	assert.ErrorIs(t, err, ErrNoShards)

	shards, err := dataset.BuildShards(context.Background(), line(3), 2, workpool.New(1))
	require.NoError(t, err)
	_, err = NewEngine(stripped, shards, ModeSharded, 10, 0)
	assert.ErrorIs(t, err, dataset.ErrCorruptDataset)

	_, err = NewEngine(line(1), nil, Mode("kdtree"), 10, 0)
	assert.Error(t, err)
}
