package tracker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kozaktomas/face-retrieval/internal/facematch"
	"github.com/kozaktomas/face-retrieval/internal/fingerprint"
)

func det(x1, y1, x2, y2, score float64) facematch.Detection {
	return facematch.Detection{Box: facematch.Box{X1: x1, Y1: y1, X2: x2, Y2: y2}, Score: score}
}

func trackLengths(tracks []Track) []int {
	out := make([]int, len(tracks))
	for i, tr := range tracks {
		out[i] = len(tr.Members)
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuild_SingleFaceThenEmptyFrame(t *testing.T) {
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9)},
		{det(1, 0, 11, 10, 0.8)},
		{det(2, 0, 12, 10, 0.7)},
		nil,
	}

	tracks := Build(frames, MinIoU)

	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	for i, m := range tracks[0].Members {
		if m.Frame != i {
			t.Errorf("member %d from frame %d", i, m.Frame)
		}
	}
	if len(tracks[0].Members) != 3 {
		t.Errorf("expected track of length 3, got %d", len(tracks[0].Members))
	}
}

func TestBuild_TwoFacesOneContinues(t *testing.T) {
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9), det(50, 50, 60, 60, 0.9)},
		{det(51, 50, 61, 60, 0.9)},
	}

	tracks := Build(frames, MinIoU)

	if got := trackLengths(tracks); !equalInts(got, []int{1, 2}) {
		t.Errorf("expected track lengths [1 2], got %v", got)
	}
}

func TestBuild_FirstMatchWinsOverBestMatch(t *testing.T) {
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9)},
		// Both exceed the threshold; the second overlaps more but the first is taken.
		{det(2, 0, 12, 10, 0.5), det(0, 0, 10, 10, 0.5)},
	}

	tracks := Build(frames, MinIoU)

	if len(tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(tracks))
	}
	if tracks[0].Members[1].Detection.X1 != 2 {
		t.Errorf("expected the first candidate to continue the track, got %+v", tracks[0].Members[1].Detection)
	}
	if len(tracks[1].Members) != 1 || tracks[1].Members[0].Frame != 1 {
		t.Errorf("expected the skipped candidate to start its own track, got %+v", tracks[1])
	}
}

func TestBuild_ComparesAgainstLastMatch(t *testing.T) {
	// The face drifts: frame 2 does not overlap frame 0 enough, but does overlap frame 1.
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9)},
		{det(2, 0, 12, 10, 0.9)},
		{det(4, 0, 14, 10, 0.9)},
	}

	tracks := Build(frames, MinIoU)

	if got := trackLengths(tracks); !equalInts(got, []int{3}) {
		t.Errorf("expected one track of 3, got %v", got)
	}
}

func TestBuild_ThresholdIsStrict(t *testing.T) {
	// Intersection 200, union 400.
	a := det(0, 0, 30, 10, 0.9)
	b := det(10, 0, 40, 10, 0.9)
	if iou := facematch.ComputeIoU(a.Box, b.Box); iou != 0.5 {
		t.Fatalf("test setup: expected IoU 0.5, got %v", iou)
	}

	tracks := Build([][]facematch.Detection{{a}, {b}}, MinIoU)

	if len(tracks) != 2 {
		t.Errorf("expected IoU equal to the threshold to break the track, got %d tracks", len(tracks))
	}
}

func TestBuild_BoundaryIsNeverCrossed(t *testing.T) {
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9)},
		{},
		{det(0, 0, 10, 10, 0.9)},
	}

	tracks := Build(frames, MinIoU)

	if got := trackLengths(tracks); !equalInts(got, []int{1, 1}) {
		t.Errorf("expected [1 1], got %v", got)
	}
}

func TestBuild_EveryDetectionAssignedOnce(t *testing.T) {
	frames := [][]facematch.Detection{
		{det(0, 0, 10, 10, 0.9), det(20, 0, 30, 10, 0.9), det(40, 0, 50, 10, 0.9)},
		{det(21, 0, 31, 10, 0.9), det(1, 0, 11, 10, 0.9)},
		{det(2, 0, 12, 10, 0.9), det(41, 0, 51, 10, 0.9)},
		nil,
		{det(100, 100, 120, 120, 0.9)},
	}

	tracks := Build(frames, MinIoU)

	total := 0
	for _, tr := range tracks {
		total += len(tr.Members)
	}
	if total != 8 {
		t.Errorf("expected 8 assigned detections, got %d", total)
	}
	if got := trackLengths(tracks); !equalInts(got, []int{3, 2, 1, 1, 1}) {
		t.Errorf("unexpected track lengths %v", got)
	}
	for i, tr := range tracks {
		if tr.ID != i {
			t.Errorf("expected track id %d, got %d", i, tr.ID)
		}
	}
}

func TestBuild_Empty(t *testing.T) {
	if tracks := Build(nil, MinIoU); len(tracks) != 0 {
		t.Errorf("expected no tracks, got %d", len(tracks))
	}
}

type fakeExtractor struct {
	vectors map[string]fingerprint.Fingerprint
}

func (f fakeExtractor) Extract(_ context.Context, item fingerprint.Item) (fingerprint.Fingerprint, error) {
	v, ok := f.vectors[item.Path]
	if !ok {
		return nil, errors.New("embedding failed")
	}
	return v, nil
}

func TestReduce(t *testing.T) {
	track := Track{Members: []Member{
		{Frame: 0, Detection: det(0, 0, 10, 10, 0.7)},
		{Frame: 1, Detection: det(1, 0, 11, 10, 0.95)},
		{Frame: 2, Detection: det(2, 0, 12, 10, 0.95)},
	}}
	ex := fakeExtractor{vectors: map[string]fingerprint.Fingerprint{
		"f0.jpg": {1, 0},
		"f1.jpg": {0, 1},
		"f2.jpg": {0, 1},
	}}
	framePath := func(i int) string { return []string{"f0.jpg", "f1.jpg", "f2.jpg"}[i] }

	red, err := Reduce(context.Background(), track, framePath, ex, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if red.Representative.Frame != 1 {
		t.Errorf("expected first of the best scoring frames, got frame %d", red.Representative.Frame)
	}
	if red.Extracted != 3 {
		t.Errorf("expected 3 extracted, got %d", red.Extracted)
	}
	norm := fingerprint.Norm(red.Fingerprint)
	if norm < 0.9999 || norm > 1.0001 {
		t.Errorf("expected unit norm, got %v", norm)
	}
	if red.Fingerprint[1] <= red.Fingerprint[0] {
		t.Errorf("expected the mean to lean towards the majority, got %v", red.Fingerprint)
	}
}

func TestReduce_AllFail(t *testing.T) {
	track := Track{Members: []Member{{Frame: 0, Detection: det(0, 0, 10, 10, 0.7)}}}
	_, err := Reduce(context.Background(), track, func(int) string { return "x" }, fakeExtractor{}, 2)
	if !errors.Is(err, ErrNoFingerprints) {
		t.Errorf("expected ErrNoFingerprints, got %v", err)
	}
}

func TestReadShots(t *testing.T) {
	frames := []string{"00001.jpg", "00002.jpg", "00003.jpg", "00004.jpg"}
	input := "00001 00002\n\n00003 00004\n"

	shots, err := ReadShots(strings.NewReader(input), frames, ".jpg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shots) != 2 || shots[0] != (Shot{0, 1}) || shots[1] != (Shot{2, 3}) {
		t.Errorf("unexpected shots %v", shots)
	}

	bad := []string{"00001\n", "00001 00009\n", "00003 00001\n"}
	for _, in := range bad {
		if _, err := ReadShots(strings.NewReader(in), frames, ".jpg"); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}
