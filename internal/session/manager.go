package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/annotations"
	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
	"github.com/kozaktomas/face-retrieval/internal/metrics"
	"github.com/kozaktomas/face-retrieval/internal/ranking"
)

// NoExternalID marks a training image that is not part of an indexed collection.
const NoExternalID int64 = -1

// TrainingImage is one example face added to a session.
type TrainingImage struct {
	Path       string
	ROI        facematch.Box
	Annotation int
	ExternalID int64
	Score      float64
}

// AddImageRequest describes a training image. ROIPoints is a flat list of polygon
// points [x, y, x, y, ...]; its bounding box is snapped to the detected face.
type AddImageRequest struct {
	Path        string
	Positive    bool
	ROIPoints   []float64
	ExternalID  int64
	FromDataset bool
}

// Aggregator turns training images into one fingerprint.
type Aggregator interface {
	Aggregate(ctx context.Context, items []fingerprint.Item, timeout time.Duration) (fingerprint.Fingerprint, error)
}

// Ranker orders the dataset by distance to a fingerprint.
type Ranker interface {
	Rank(query fingerprint.Fingerprint) []ranking.Entry
}

// Manager exposes the session operations to the transports.
type Manager struct {
	store       *Store
	detector    fingerprint.Detector
	loader      fingerprint.ImageLoader
	aggregator  Aggregator
	ranker      Ranker
	annotations annotations.Store
	timeout     time.Duration
	log         *zap.Logger
}

// NewManager wires a manager. timeout bounds every Train call.
func NewManager(
	store *Store,
	detector fingerprint.Detector,
	loader fingerprint.ImageLoader,
	aggregator Aggregator,
	ranker Ranker,
	annos annotations.Store,
	timeout time.Duration,
	log *zap.Logger,
) *Manager {
	return &Manager{
		store:       store,
		detector:    detector,
		loader:      loader,
		aggregator:  aggregator,
		ranker:      ranker,
		annotations: annos,
		timeout:     timeout,
		log:         log,
	}
}

// Store returns the session store.
func (m *Manager) Store() *Store { return m.store }

// OpenSession creates a session for dataset and returns its id.
func (m *Manager) OpenSession(dataset string) (uint64, error) {
	if dataset == "" {
		return 0, fmt.Errorf("%w: dataset is required", ErrInvalidRequest)
	}
	s := m.store.Open(dataset)
	m.log.Info("session opened", zap.Uint64("session_id", s.ID), zap.String("dataset", dataset))
	return s.ID, nil
}

// AddTrainingImage adds a training image. It reports whether the image was stored:
// images added after training started and images without a detectable face are
// skipped without error.
func (m *Manager) AddTrainingImage(ctx context.Context, id uint64, req AddImageRequest) (bool, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return false, err
	}
	if !s.accepting() {
		m.log.Info("training already started, skipping image", zap.Uint64("session_id", id), zap.String("path", req.Path))
		return false, nil
	}
	if req.Path == "" {
		return false, fmt.Errorf("%w: image path is required", ErrInvalidRequest)
	}

	img := TrainingImage{Path: req.Path, ExternalID: req.ExternalID, Annotation: annotations.Negative}
	if req.Positive {
		img.Annotation = annotations.Positive
	}

	hasROI := len(req.ROIPoints) > 0
	if hasROI {
		roi, err := m.snapROI(ctx, req.Path, req.ROIPoints)
		if err != nil {
			return false, err
		}
		img.ROI = roi
	}

	if req.ExternalID == NoExternalID && !hasROI {
		best, found, err := m.detectBest(ctx, req.Path)
		if err != nil {
			return false, err
		}
		if !found {
			m.log.Info("no face detected, image not stored", zap.Uint64("session_id", id), zap.String("path", req.Path))
			return false, nil
		}
		img.ROI = best.Box.Truncate()
	}

	if !s.appendImage(img) {
		m.log.Info("training started while adding, skipping image", zap.Uint64("session_id", id), zap.String("path", req.Path))
		return false, nil
	}
	return true, nil
}

// snapROI re-runs detection inside the supplied region and returns the face box in
// full image coordinates.
func (m *Manager) snapROI(ctx context.Context, path string, points []float64) (facematch.Box, error) {
	region, err := facematch.BoxFromPoints(points)
	if err != nil {
		return facematch.Box{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	img, err := m.loader.Load(path)
	if err != nil {
		return facematch.Box{}, fmt.Errorf("loading training image: %w", err)
	}
	crop, err := fingerprint.Crop(img, region)
	if err != nil {
		return facematch.Box{}, fmt.Errorf("%w: %v", ErrNoFaceInROI, err)
	}
	dets, err := m.detector.Detect(ctx, crop)
	if err != nil {
		return facematch.Box{}, fmt.Errorf("detecting faces: %w", err)
	}
	best, ok := facematch.Best(dets)
	if !ok {
		return facematch.Box{}, ErrNoFaceInROI
	}
	// The crop is clipped to the image, so its origin can differ from the region's.
	origin := fingerprint.CropRect(img.Bounds(), region).Min.Sub(img.Bounds().Min)
	return best.Box.Truncate().Offset(float64(origin.X), float64(origin.Y)), nil
}

func (m *Manager) detectBest(ctx context.Context, path string) (facematch.Detection, bool, error) {
	img, err := m.loader.Load(path)
	if err != nil {
		return facematch.Detection{}, false, fmt.Errorf("loading training image: %w", err)
	}
	dets, err := m.detector.Detect(ctx, img)
	if err != nil {
		return facematch.Detection{}, false, fmt.Errorf("detecting faces: %w", err)
	}
	best, ok := facematch.Best(dets)
	return best, ok, nil
}

// Train closes the training gate and aggregates the training images into the
// session fingerprint. On failure the session stays in TRAINING_STARTED and Train
// may be retried.
func (m *Manager) Train(ctx context.Context, id uint64) error {
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	images, err := s.closeGate()
	if err != nil {
		return err
	}

	items := make([]fingerprint.Item, len(images))
	for i, img := range images {
		items[i] = fingerprint.Item{Path: img.Path, ROI: img.ROI}
	}

	start := time.Now()
	fp, err := m.aggregator.Aggregate(ctx, items, m.timeout)
	metrics.AggregationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.log.Warn("training failed", zap.Uint64("session_id", id), zap.Int("images", len(items)), zap.Error(err))
		return err
	}

	if err := s.finishTraining(fp); err != nil {
		return err
	}
	m.log.Info("session trained",
		zap.Uint64("session_id", id),
		zap.Int("images", len(items)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Rank ranks the dataset against the session fingerprint.
func (m *Manager) Rank(id uint64) error {
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	fp, err := s.trainedFingerprint()
	if err != nil {
		return err
	}
	entries := m.ranker.Rank(fp)
	if err := s.storeRanking(entries); err != nil {
		return err
	}
	m.log.Info("session ranked", zap.Uint64("session_id", id), zap.Int("results", len(entries)))
	return nil
}

// GetRanking returns the stored ranking.
func (m *Manager) GetRanking(id uint64) ([]ranking.Entry, error) {
	s, err := m.store.Get(id)
	if err != nil {
		return nil, err
	}
	return s.rankedEntries()
}

// ReleaseSession drops all state of the session.
func (m *Manager) ReleaseSession(id uint64) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.log.Info("session released", zap.Uint64("session_id", id))
	return nil
}

// SaveAnnotations closes the training gate and stores the training images under key.
func (m *Manager) SaveAnnotations(ctx context.Context, id uint64, key string) error {
	if key == "" {
		return fmt.Errorf("%w: filepath is required", ErrInvalidRequest)
	}
	s, err := m.store.Get(id)
	if err != nil {
		return err
	}
	images, err := s.closeGate()
	if err != nil {
		return err
	}

	records := make([]annotations.Record, len(images))
	for i, img := range images {
		records[i] = annotations.Record{
			Path:  img.Path,
			ROI:   img.ROI,
			Anno:  img.Annotation,
			URI:   img.ExternalID,
			Score: img.Score,
		}
	}
	if err := m.annotations.Save(ctx, key, records); err != nil {
		return fmt.Errorf("saving annotations: %w", err)
	}
	return nil
}

// GetAnnotations loads the annotation set stored under key.
func (m *Manager) GetAnnotations(ctx context.Context, key string) ([]annotations.Record, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: filepath is required", ErrInvalidRequest)
	}
	records, err := m.annotations.Load(ctx, key)
	if errors.Is(err, annotations.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return records, err
}

// CheckClassifierRequest validates a load/save classifier call. The engine has no
// classifier to persist, so a valid call does nothing.
func (m *Manager) CheckClassifierRequest(id uint64, path string) error {
	if path == "" {
		return fmt.Errorf("%w: filepath is required", ErrInvalidRequest)
	}
	_, err := m.store.Get(id)
	return err
}
