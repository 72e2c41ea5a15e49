package instance

import "math"

// Dist is the Euclidean distance between a and b.
func Dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// TourLength sums the edge lengths of a closed tour.
func TourLength(coords []Point, tour []int) float64 {
	var total float64
	for i := 0; i+1 < len(tour); i++ {
		total += Dist(coords[tour[i]], coords[tour[i+1]])
	}
	return total
}

// BoundingBox returns the per-axis minimum and the larger of the two axis
// ranges of pts.
func BoundingBox(pts []Point) (min Point, span float64) {
	if len(pts) == 0 {
		return Point{}, 0
	}
	min, max := pts[0], pts[0]
	for _, p := range pts[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
	}
	return min, math.Max(max.X-min.X, max.Y-min.Y)
}
