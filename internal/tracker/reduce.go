package tracker

import (
	"context"
	"errors"

	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
)

// ErrNoFingerprints is returned when no detection of a track could be embedded.
var ErrNoFingerprints = errors.New("no detection of the track could be embedded")

// Extractor computes the fingerprint of one face. fingerprint.Aggregator implements it.
type Extractor interface {
	Extract(ctx context.Context, item fingerprint.Item) (fingerprint.Fingerprint, error)
}

// Reduced is the dataset entry a track collapses into.
type Reduced struct {
	Fingerprint    fingerprint.Fingerprint
	Representative Member
	Extracted      int
}

// Reduce embeds every detection of the track, averages the fingerprints over the
// track length and normalizes once. The representative is the highest scoring
// detection; the first one wins ties. framePath maps a shot frame index to its image.
func Reduce(ctx context.Context, track Track, framePath func(frame int) string, ex Extractor, dim int) (Reduced, error) {
	acc := fingerprint.NewAccumulator(dim)
	rep := track.Members[0]

	for _, m := range track.Members {
		if m.Detection.Score > rep.Detection.Score {
			rep = m
		}
		fp, err := ex.Extract(ctx, fingerprint.Item{
			Path: framePath(m.Frame),
			ROI:  m.Detection.Box.Truncate(),
		})
		if err != nil {
			continue
		}
		acc.Add(fp)
	}

	if acc.Count() == 0 {
		return Reduced{}, ErrNoFingerprints
	}

	return Reduced{
		Fingerprint:    acc.Mean(len(track.Members)),
		Representative: rep,
		Extracted:      acc.Count(),
	}, nil
}
