// Package facematch provides the box geometry shared by detection, tracking and ranking.
package facematch

import "fmt"

// Box is an axis-aligned rectangle in pixel coordinates, corners (X1, Y1) and (X2, Y2).
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Detection is a face box reported by a detector together with its confidence.
type Detection struct {
	Box
	Score float64 `json:"score"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area.
func (b Box) Area() float64 { return b.Width() * b.Height() }

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// IsZero reports whether all coordinates are zero, the placeholder roi of images
// stored without detection.
func (b Box) IsZero() bool {
	return b == Box{}
}

// Slice returns the box as [x1, y1, x2, y2].
func (b Box) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

func (b Box) String() string {
	return fmt.Sprintf("[%g %g %g %g]", b.X1, b.Y1, b.X2, b.Y2)
}

// BoxFromSlice builds a box from [x1, y1, x2, y2].
func BoxFromSlice(v []float64) (Box, error) {
	if len(v) != 4 {
		return Box{}, fmt.Errorf("box needs 4 coordinates, got %d", len(v))
	}
	return Box{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}
