package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SaveBundle writes b as a single-bundle dataset file.
func SaveBundle(path string, b *Bundle) error {
	return writeFile(path, &file{Bundle: b})
}

// SaveList writes a dataset file referencing sub-bundles.
func SaveList(path string, parts []string) error {
	return writeFile(path, &file{Parts: parts})
}

// Append adds the entries of b to the bundle at path, creating it if missing.
// List-shaped datasets are refused with ErrListDataset.
func Append(path string, b *Bundle) error {
	existing := &Bundle{}
	if _, err := os.Stat(path); err == nil {
		f, err := readFile(path)
		if err != nil {
			return err
		}
		if f.Bundle == nil {
			return fmt.Errorf("%w: cannot append to %s", ErrListDataset, path)
		}
		existing = f.Bundle
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking dataset file: %w", err)
	}

	existing.Paths = append(existing.Paths, b.Paths...)
	existing.ROIs = append(existing.ROIs, b.ROIs...)
	existing.Fingerprints = append(existing.Fingerprints, b.Fingerprints...)
	return SaveBundle(path, existing)
}

// CheckAppendable fails with ErrListDataset when the dataset at path is a list of
// sub-bundles. A missing file can be appended to.
func CheckAppendable(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	f, err := readFile(path)
	if err != nil {
		return err
	}
	if f.Bundle == nil {
		return fmt.Errorf("%w: cannot append to %s", ErrListDataset, path)
	}
	return nil
}

// NoFeaturesPath returns the name of the stripped copy of a dataset file: data.bin -> data_nofeats.bin.
func NoFeaturesPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_nofeats" + ext
}

// StripFingerprints writes a copy of the dataset at path without fingerprints, and
// returns the paths written. For list datasets every sub-bundle is stripped and a new
// list file references the stripped copies.
func StripFingerprints(path string) ([]string, error) {
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}

	out := NoFeaturesPath(path)
	if f.Bundle != nil {
		stripped := &Bundle{Paths: f.Bundle.Paths, ROIs: f.Bundle.ROIs}
		if err := SaveBundle(out, stripped); err != nil {
			return nil, err
		}
		return []string{out}, nil
	}

	written := make([]string, 0, len(f.Parts)+1)
	parts := make([]string, 0, len(f.Parts))
	for _, ref := range f.Parts {
		partOut, err := StripFingerprints(ResolvePart(path, ref))
		if err != nil {
			return nil, err
		}
		written = append(written, partOut...)
		parts = append(parts, NoFeaturesPath(ref))
	}
	if err := SaveList(out, parts); err != nil {
		return nil, err
	}
	return append(written, out), nil
}

// Split rewrites the bundle at path as a list of sub-bundles with at most partSize
// entries each, stored next to it as <name>_part<k><ext>.
func Split(path string, partSize int) ([]string, error) {
	if partSize < 1 {
		return nil, fmt.Errorf("part size must be positive, got %d", partSize)
	}
	f, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if f.Bundle == nil {
		return nil, fmt.Errorf("%w: %s is already split", ErrListDataset, path)
	}

	b := f.Bundle
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	var parts []string
	for lo, k := 0, 0; lo < len(b.Paths); lo, k = lo+partSize, k+1 {
		hi := min(lo+partSize, len(b.Paths))
		part := &Bundle{Paths: b.Paths[lo:hi], ROIs: b.ROIs[lo:hi]}
		if len(b.Fingerprints) == len(b.Paths) {
			part.Fingerprints = b.Fingerprints[lo:hi]
		}
		name := fmt.Sprintf("%s_part%d%s", base, k, ext)
		if err := SaveBundle(filepath.Join(filepath.Dir(path), name), part); err != nil {
			return nil, err
		}
		parts = append(parts, name)
	}

	if err := SaveList(path, parts); err != nil {
		return nil, err
	}
	return parts, nil
}
