package facematch

import (
	"fmt"
	"math"
	"strings"
)

// ComputeIoU calculates Intersection over Union between two boxes.
// Both boxes must be well-formed (X1 < X2, Y1 < Y2); anything else is a caller bug and panics.
func ComputeIoU(a, b Box) float64 {
	if !a.Valid() || !b.Valid() {
		panic(fmt.Sprintf("facematch: IoU of malformed boxes %v and %v", a, b))
	}

	// Calculate intersection.
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := a.Area() + b.Area() - intersection

	return intersection / union
}

// Polygon returns the closed outline of the box as x1,y1,x2,y1,x2,y2,x1,y2,x1,y1.
func (b Box) Polygon() [10]float64 {
	return [10]float64{b.X1, b.Y1, b.X2, b.Y1, b.X2, b.Y2, b.X1, b.Y2, b.X1, b.Y1}
}

// PolygonString encodes Polygon with two decimals per value, joined by underscores.
func (b Box) PolygonString() string {
	poly := b.Polygon()
	parts := make([]string, len(poly))
	for i, v := range poly {
		parts[i] = fmt.Sprintf("%0.2f", v)
	}
	return strings.Join(parts, "_")
}

// BoxFromPoints returns the bounding box of a flat list of points [x, y, x, y, ...].
// Coordinates are truncated to whole pixels.
func BoxFromPoints(points []float64) (Box, error) {
	if len(points) < 4 || len(points)%2 != 0 {
		return Box{}, fmt.Errorf("roi needs an even number of coordinates (at least 4), got %d", len(points))
	}

	b := Box{X1: math.Inf(1), Y1: math.Inf(1), X2: math.Inf(-1), Y2: math.Inf(-1)}
	for i := 0; i < len(points); i += 2 {
		x := math.Trunc(points[i])
		y := math.Trunc(points[i+1])
		b.X1 = min(b.X1, x)
		b.Y1 = min(b.Y1, y)
		b.X2 = max(b.X2, x)
		b.Y2 = max(b.Y2, y)
	}
	return b, nil
}

// Offset translates the box by (dx, dy).
func (b Box) Offset(dx, dy float64) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Truncate drops the fractional part of each coordinate.
func (b Box) Truncate() Box {
	return Box{X1: math.Trunc(b.X1), Y1: math.Trunc(b.Y1), X2: math.Trunc(b.X2), Y2: math.Trunc(b.Y2)}
}

// Best returns the highest scoring detection. The first one wins ties.
func Best(dets []Detection) (Detection, bool) {
	if len(dets) == 0 {
		return Detection{}, false
	}
	best := dets[0]
	for _, d := range dets[1:] {
		if d.Score > best.Score {
			best = d
		}
	}
	return best, true
}
