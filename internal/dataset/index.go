// Package dataset loads the face fingerprint dataset and builds its nearest-neighbor shards.
package dataset

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
)

// ErrCorruptDataset is returned when a dataset file has neither the bundle nor the list shape,
// or misses required fields.
var ErrCorruptDataset = errors.New("corrupt dataset")

// ErrListDataset is returned when appending to a dataset that is a list of sub-bundles.
var ErrListDataset = errors.New("dataset is a list of sub-bundles")

const fileVersion = 1

// Bundle is one self-contained piece of the dataset. Entry i is Paths[i], ROIs[i], Fingerprints[i].
// Fingerprints may be empty in bundles stripped for sharded ranking.
type Bundle struct {
	Paths        []string
	ROIs         []facematch.Box
	Fingerprints [][]float32
}

// file is the on-disk envelope. Exactly one of Bundle and Parts is set.
type file struct {
	Version int
	Bundle  *Bundle
	Parts   []string
}

// Index is the in-memory dataset. Positions in the three slices are the dataset index.
type Index struct {
	Paths        []string
	ROIs         []facematch.Box
	Fingerprints []fingerprint.Fingerprint
}

// Len returns the number of entries.
func (idx *Index) Len() int { return len(idx.Paths) }

// HasFingerprints reports whether fingerprints were loaded for every entry.
func (idx *Index) HasFingerprints() bool {
	return len(idx.Paths) > 0 && len(idx.Fingerprints) == len(idx.Paths)
}

// LoadOptions controls Load.
type LoadOptions struct {
	// SkipFingerprints drops fingerprints after loading and accepts bundles without them.
	// Used when ranking goes through shards only.
	SkipFingerprints bool
	// Dim is the required fingerprint length. When zero, every fingerprint must
	// match the length of the first one loaded.
	Dim int
}

// Load reads a dataset file. It is either a single bundle or a list of sub-bundle
// references loaded and concatenated in order. A reference without a path separator
// is resolved against the directory of path.
func Load(path string, opts LoadOptions) (*Index, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}

	idx := &Index{}
	switch {
	case f.Bundle != nil:
		if err := idx.appendBundle(f.Bundle, path, opts); err != nil {
			return nil, err
		}
	case len(f.Parts) > 0:
		for _, ref := range f.Parts {
			partPath := ResolvePart(path, ref)
			part, err := readFile(partPath)
			if err != nil {
				return nil, err
			}
			if part.Bundle == nil {
				return nil, fmt.Errorf("%w: sub-bundle %s is not a bundle", ErrCorruptDataset, partPath)
			}
			if err := idx.appendBundle(part.Bundle, partPath, opts); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s holds neither a bundle nor a list of sub-bundles", ErrCorruptDataset, path)
	}

	return idx, nil
}

// ResolvePart resolves a sub-bundle reference listed in the dataset file at mainPath.
func ResolvePart(mainPath, ref string) string {
	if !strings.ContainsRune(ref, os.PathSeparator) && !strings.ContainsRune(ref, '/') {
		return filepath.Join(filepath.Dir(mainPath), ref)
	}
	return ref
}

func (idx *Index) appendBundle(b *Bundle, path string, opts LoadOptions) error {
	if len(b.Paths) != len(b.ROIs) {
		return fmt.Errorf("%w: %s has %d paths but %d rois", ErrCorruptDataset, path, len(b.Paths), len(b.ROIs))
	}
	if !opts.SkipFingerprints && len(b.Fingerprints) != len(b.Paths) {
		return fmt.Errorf("%w: %s has %d paths but %d fingerprints", ErrCorruptDataset, path, len(b.Paths), len(b.Fingerprints))
	}

	if !opts.SkipFingerprints {
		dim := opts.Dim
		if dim == 0 && len(idx.Fingerprints) > 0 {
			dim = len(idx.Fingerprints[0])
		}
		for i, fp := range b.Fingerprints {
			if dim == 0 {
				dim = len(fp)
			}
			if len(fp) != dim {
				return fmt.Errorf("%w: %s entry %d has %d values, expected %d", ErrCorruptDataset, path, i, len(fp), dim)
			}
		}
	}

	idx.Paths = append(idx.Paths, b.Paths...)
	idx.ROIs = append(idx.ROIs, b.ROIs...)
	if !opts.SkipFingerprints {
		for _, fp := range b.Fingerprints {
			idx.Fingerprints = append(idx.Fingerprints, fp)
		}
	}
	return nil
}

func readFile(path string) (*file, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCorruptDataset, path, err)
	}

	var f file
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrCorruptDataset, path, err)
	}
	return &f, nil
}

func writeFile(path string, f *file) error {
	f.Version = fileVersion

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	return nil
}
