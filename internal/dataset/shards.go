package dataset

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/workpool"
)

const shardListVersion = 1

// ErrNoShards is returned when a shard list references no shards.
var ErrNoShards = errors.New("no shards")

// Shard is a nearest-neighbor index over a contiguous range of the dataset.
// Keys are local positions; global index = local + Offset.
type Shard struct {
	graph       *hnsw.Graph[int64]
	vectors     [][]float32 // by local position, shared with the graph nodes
	approximate bool
	N           int
	Offset      int
}

// Neighbor is a shard search hit.
type Neighbor struct {
	Local    int
	Distance float64
}

// Global returns the dataset index of a hit.
func (s *Shard) Global(n Neighbor) int { return n.Local + s.Offset }

// GraphParams tunes the shard graphs. M is fixed when a shard is built;
// EfSearch and Approximate can be changed on load.
type GraphParams struct {
	// M is the maximum number of neighbors per node.
	M int
	// EfSearch is the number of candidates an approximate search collects
	// before the k best are kept.
	EfSearch int
	// Approximate answers searches from the graph. Otherwise every vector of
	// the shard is compared, which is exact.
	Approximate bool
}

// DefaultGraphParams match the defaults of the ranking config.
var DefaultGraphParams = GraphParams{M: 48, EfSearch: 512}

func (p GraphParams) orDefault() GraphParams {
	if p.M < 3 {
		p.M = DefaultGraphParams.M
	}
	if p.EfSearch < 1 {
		p.EfSearch = DefaultGraphParams.EfSearch
	}
	return p
}

// newGraph seeds the level generator so a rebuild of the same range yields the same graph.
func newGraph(p GraphParams, seed int64) *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = p.M
	g.Ml = 1 / math.Log(float64(p.M))
	g.EfSearch = p.EfSearch
	g.Distance = hnsw.EuclideanDistance
	g.Rng = rand.New(rand.NewSource(seed)) //nolint:gosec // level generation only
	return g
}

// BuildShard indexes fps, which start at dataset position offset.
func BuildShard(fps []fingerprint.Fingerprint, offset int, params GraphParams) *Shard {
	params = params.orDefault()
	g := newGraph(params, int64(offset))
	vectors := make([][]float32, len(fps))
	for i, fp := range fps {
		vectors[i] = fp
		g.Add(hnsw.MakeNode(int64(i), vectors[i]))
	}
	return &Shard{graph: g, vectors: vectors, approximate: params.Approximate, N: len(fps), Offset: offset}
}

// Search returns up to k nearest neighbors of query, nearest first with ties
// in local order. An approximate search asks the graph for max(k, EfSearch)
// candidates and keeps the k best by recomputed distance.
func (s *Shard) Search(query fingerprint.Fingerprint, k int) []Neighbor {
	if s.N == 0 || k <= 0 {
		return nil
	}

	var out []Neighbor
	if fetch := max(k, s.graph.EfSearch); s.approximate && fetch < s.N {
		nodes := s.graph.Search([]float32(query), fetch)
		out = make([]Neighbor, 0, len(nodes))
		for _, n := range nodes {
			out = append(out, Neighbor{
				Local:    int(n.Key),
				Distance: fingerprint.EuclideanDistance(query, n.Value),
			})
		}
	} else {
		out = make([]Neighbor, len(s.vectors))
		for i, vec := range s.vectors {
			out[i] = Neighbor{Local: i, Distance: fingerprint.EuclideanDistance(query, vec)}
		}
	}

	slices.SortStableFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Local, b.Local)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// BuildShards splits the index into consecutive ranges of at most shardSize entries
// and builds one graph per range on the pool with DefaultGraphParams.
func BuildShards(ctx context.Context, idx *Index, shardSize int, pool *workpool.Pool) ([]*Shard, error) {
	return BuildShardsFunc(ctx, idx, shardSize, pool, DefaultGraphParams, nil)
}

// ShardCount returns the number of shards BuildShards produces for n entries.
func ShardCount(n, shardSize int) int {
	return (n + shardSize - 1) / shardSize
}

// BuildShardsFunc is BuildShards with explicit graph params and onShard, if set,
// called after each shard is built. onShard may be called concurrently.
func BuildShardsFunc(ctx context.Context, idx *Index, shardSize int, pool *workpool.Pool, params GraphParams, onShard func()) ([]*Shard, error) {
	if !idx.HasFingerprints() {
		return nil, errors.New("building shards requires fingerprints")
	}
	if shardSize < 1 {
		return nil, fmt.Errorf("shard size must be positive, got %d", shardSize)
	}

	count := ShardCount(idx.Len(), shardSize)
	shards := make([]*Shard, count)

	g, ctx := errgroup.WithContext(ctx)
	for k := range count {
		lo := k * shardSize
		hi := min(lo+shardSize, idx.Len())
		g.Go(func() error {
			return pool.Do(ctx, func() error {
				shards[k] = BuildShard(idx.Fingerprints[lo:hi], lo, params)
				if onShard != nil {
					onShard()
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return shards, nil
}

// ShardListMetadata is the JSON shard list written next to the shard graphs.
type ShardListMetadata struct {
	Version   int         `json:"version"`
	BuildTime time.Time   `json:"build_time"`
	Total     int         `json:"total"`
	Shards    []ShardMeta `json:"shards"`
}

// ShardMeta describes one saved shard. File is relative to the list file.
type ShardMeta struct {
	File string `json:"file"`
	N    int    `json:"n"`
}

// ShardFile returns the graph file of shard k for a shard list at path.
func ShardFile(path string, k int) string {
	return fmt.Sprintf("%s.%d.hnsw", filepath.Base(path), k)
}

// SaveShards writes every shard graph and the shard list at path.
func SaveShards(path string, shards []*Shard) error {
	meta := ShardListMetadata{
		Version:   shardListVersion,
		BuildTime: time.Now(),
		Shards:    make([]ShardMeta, 0, len(shards)),
	}

	for k, s := range shards {
		name := ShardFile(path, k)
		if err := exportGraph(filepath.Join(filepath.Dir(path), name), s.graph); err != nil {
			return err
		}
		meta.Shards = append(meta.Shards, ShardMeta{File: name, N: s.N})
		meta.Total += s.N
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal shard list: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write shard list: %w", err)
	}
	return nil
}

func exportGraph(path string, g *hnsw.Graph[int64]) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create shard file: %w", err)
	}
	if err := g.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to export shard graph: %w", err)
	}
	return f.Close()
}

// LoadShards reads the shard list at path and every graph it references.
// Offsets are the running sum of the sizes of the preceding shards.
// A missing, truncated or mis-sized graph fails with ErrCorruptDataset.
// params.M is ignored; a positive params.EfSearch replaces the stored one.
func LoadShards(path string, params GraphParams) ([]*Shard, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read shard list: %w", err)
	}

	var meta ShardListMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal shard list: %w", err)
	}
	if len(meta.Shards) == 0 {
		return nil, ErrNoShards
	}

	shards := make([]*Shard, 0, len(meta.Shards))
	offset := 0
	for _, sm := range meta.Shards {
		g, err := importGraph(ResolvePart(path, sm.File))
		if err != nil {
			return nil, fmt.Errorf("%w: shard %s: %w", ErrCorruptDataset, sm.File, err)
		}
		if g.Len() != sm.N {
			return nil, fmt.Errorf("%w: shard %s holds %d entries, list says %d", ErrCorruptDataset, sm.File, g.Len(), sm.N)
		}
		vectors := make([][]float32, sm.N)
		for i := range sm.N {
			vec, ok := g.Lookup(int64(i))
			if !ok {
				return nil, fmt.Errorf("%w: shard %s is missing entry %d", ErrCorruptDataset, sm.File, i)
			}
			vectors[i] = vec
		}
		if params.EfSearch > 0 {
			g.EfSearch = params.EfSearch
		}
		shards = append(shards, &Shard{
			graph:       g,
			vectors:     vectors,
			approximate: params.Approximate,
			N:           sm.N,
			Offset:      offset,
		})
		offset += sm.N
	}
	return shards, nil
}

// importGraph reads an exported graph. Unlike hnsw.LoadSavedGraph it never
// creates the file.
func importGraph(path string) (*hnsw.Graph[int64], error) {
	f, err := os.Open(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	g := hnsw.NewGraph[int64]()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return g, nil
}

// CheckShardDims fails with ErrCorruptDataset unless every non-empty shard
// holds vectors of length dim.
func CheckShardDims(shards []*Shard, dim int) error {
	for k, s := range shards {
		if s.N == 0 {
			continue
		}
		if got := len(s.vectors[0]); got != dim {
			return fmt.Errorf("%w: shard %d has dimension %d, expected %d", ErrCorruptDataset, k, got, dim)
		}
	}
	return nil
}

// TotalSize returns the number of entries covered by shards.
func TotalSize(shards []*Shard) int {
	total := 0
	for _, s := range shards {
		total += s.N
	}
	return total
}
