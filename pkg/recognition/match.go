package recognition

import "math"

// DefaultTolerance is the distance at or below which two dlib descriptors
// are treated as the same person.
const DefaultTolerance = 0.6

// UnknownName labels faces that match no roster entry.
const UnknownName = "Unknown"

// MatchResult is the outcome of matching one descriptor against a roster.
type MatchResult struct {
	Matched  bool
	Name     string
	Index    int // arg-min roster index, -1 for an empty roster
	Distance float64
}

// EuclideanDistance calculates the Euclidean distance between two descriptors.
func EuclideanDistance(d1, d2 Descriptor) float64 {
	var sum float64
	for i := range d1 {
		diff := float64(d1[i] - d2[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

// FaceDistances returns the distance from query to every known descriptor,
// in the same order.
func FaceDistances(known []Descriptor, query Descriptor) []float64 {
	distances := make([]float64, len(known))
	for i, d := range known {
		distances[i] = EuclideanDistance(d, query)
	}
	return distances
}

// CompareFaces reports, per known descriptor, whether it is within tolerance
// of query.
func CompareFaces(known []Descriptor, query Descriptor, tolerance float64) []bool {
	matches := make([]bool, len(known))
	for i, distance := range FaceDistances(known, query) {
		matches[i] = distance <= tolerance
	}
	return matches
}

// BestMatchIndex returns the index of the smallest distance, preferring the
// first on ties, or -1 for an empty slice.
func BestMatchIndex(distances []float64) int {
	best := -1
	bestDist := math.Inf(1)
	for i, d := range distances {
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}

// Resolve matches query against the parallel names/known slices.
//
// The within-tolerance test and the nearest-entry search are evaluated
// separately: the reported identity is always the global arg-min, and it is
// accepted only if the tolerance test passed for that same entry.
func Resolve(names []string, known []Descriptor, query Descriptor, tolerance float64) MatchResult {
	result := MatchResult{Name: UnknownName, Index: -1, Distance: math.Inf(1)}

	matches := CompareFaces(known, query, tolerance)
	distances := FaceDistances(known, query)

	best := BestMatchIndex(distances)
	if best < 0 {
		return result
	}

	result.Index = best
	result.Distance = distances[best]
	if matches[best] {
		result.Matched = true
		result.Name = names[best]
	}
	return result
}
