// Package tracker stitches per-frame face detections of a shot into face tracks.
package tracker

import "github.com/kozaktomas/face-retrieval/internal/facematch"

// MinIoU is the overlap a detection must exceed to continue a track.
const MinIoU = 0.5

// Member is one detection of a track and the frame (within the shot) it came from.
type Member struct {
	Frame     int
	Detection facematch.Detection
}

// Track is a sequence of same-identity detections over consecutive frames.
type Track struct {
	ID      int
	Members []Member
}

type trackState int

const (
	stateOpen trackState = iota
	stateClosed
)

// openTrack is a track under construction. Only the last matched detection is
// compared with the next frame.
type openTrack struct {
	id          int
	state       trackState
	lastMatched facematch.Detection
	members     []Member
}

func startTrack(id, frame int, det facematch.Detection) *openTrack {
	return &openTrack{
		id:          id,
		state:       stateOpen,
		lastMatched: det,
		members:     []Member{{Frame: frame, Detection: det}},
	}
}

// step tries to extend the track into frame. The first unassigned detection whose
// IoU with the last match exceeds minIoU wins, even if a later one overlaps more.
// An empty frame or no match closes the track.
func (t *openTrack) step(frame int, dets []facematch.Detection, assigned []int, minIoU float64) {
	if len(dets) == 0 {
		t.state = stateClosed
		return
	}
	for j, cand := range dets {
		if assigned[j] != unassigned {
			continue
		}
		if facematch.ComputeIoU(t.lastMatched.Box, cand.Box) > minIoU {
			assigned[j] = t.id
			t.lastMatched = cand
			t.members = append(t.members, Member{Frame: frame, Detection: cand})
			return
		}
	}
	t.state = stateClosed
}

const unassigned = -1

// Build runs the greedy two-cursor tracker over the frames of one shot. A nil or
// empty frame is a boundary no track crosses. Every detection ends up in exactly one
// track; tracks are returned in creation order with ids 0, 1, 2, ...
func Build(frames [][]facematch.Detection, minIoU float64) []Track {
	assigned := make([][]int, len(frames))
	for i, dets := range frames {
		assigned[i] = make([]int, len(dets))
		for j := range assigned[i] {
			assigned[i][j] = unassigned
		}
	}

	var tracks []Track
	for a, dets := range frames {
		for i, det := range dets {
			if assigned[a][i] != unassigned {
				continue
			}
			id := len(tracks)
			assigned[a][i] = id
			t := startTrack(id, a, det)
			for b := a + 1; b < len(frames) && t.state == stateOpen; b++ {
				t.step(b, frames[b], assigned[b], minIoU)
			}
			tracks = append(tracks, Track{ID: t.id, Members: t.members})
		}
	}
	return tracks
}
