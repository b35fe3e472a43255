package fingerprint

import "math"

// NormEpsilon is the floor applied to a vector norm before dividing by it.
const NormEpsilon = 1e-5

// Accumulator sums vectors in float64 so long sums don't lose precision.
type Accumulator struct {
	sum   []float64
	count int
}

// NewAccumulator creates an accumulator for vectors of length dim.
func NewAccumulator(dim int) *Accumulator {
	return &Accumulator{sum: make([]float64, dim)}
}

// Add adds v to the running sum. Vectors of the wrong length are ignored and reported false.
func (a *Accumulator) Add(v []float32) bool {
	if len(v) != len(a.sum) {
		return false
	}
	for i, x := range v {
		a.sum[i] += float64(x)
	}
	a.count++
	return true
}

// Merge adds another accumulator's sum into a.
func (a *Accumulator) Merge(b *Accumulator) {
	for i := range a.sum {
		a.sum[i] += b.sum[i]
	}
	a.count += b.count
}

// Count returns how many vectors were added.
func (a *Accumulator) Count() int { return a.count }

// Mean divides the sum by divisor (not by Count) and normalizes the result.
func (a *Accumulator) Mean(divisor int) Fingerprint {
	out := make([]float64, len(a.sum))
	if divisor > 0 {
		for i, x := range a.sum {
			out[i] = x / float64(divisor)
		}
	}
	return normalize64(out)
}

// Normalize scales v to unit length. The norm is floored at NormEpsilon.
func Normalize(v []float32) Fingerprint {
	f := make([]float64, len(v))
	for i, x := range v {
		f[i] = float64(x)
	}
	return normalize64(f)
}

func normalize64(v []float64) Fingerprint {
	var sq float64
	for _, x := range v {
		sq += x * x
	}
	norm := max(math.Sqrt(sq), NormEpsilon)

	out := make(Fingerprint, len(v))
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sq float64
	for _, x := range v {
		sq += float64(x) * float64(x)
	}
	return math.Sqrt(sq)
}

// EuclideanDistance returns the L2 distance between a and b, which must have equal length.
func EuclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
