package instance

import (
	"context"
	"time"
)

// TourOptions bounds the reference tour search.
type TourOptions struct {
	// MaxPasses caps full 2-opt scans; 0 means until no improving move exists.
	MaxPasses int
	// TimeLimit is a soft wall-clock budget; 0 disables it.
	TimeLimit time.Duration
	// Eps is the minimum gain for a move to be accepted.
	Eps float64
}

// DefaultTourOptions returns the options used when an instance carries no
// solver tour.
func DefaultTourOptions() TourOptions {
	return TourOptions{MaxPasses: 50, TimeLimit: 30 * time.Second, Eps: 1e-9}
}

// ReferenceTour builds a closed tour starting at node 0 with nearest-neighbour
// construction followed by first-improvement 2-opt. It stands in for the
// solver tour when computing heatmap statistics. The search stops early when
// ctx is done or the time budget runs out; the best tour so far is returned.
func ReferenceTour(ctx context.Context, coords []Point, opts TourOptions) []int {
	n := len(coords)
	switch n {
	case 0:
		return nil
	case 1:
		return []int{0, 0}
	}

	tour := nearestNeighbourTour(coords)
	twoOpt(ctx, coords, tour, opts)
	return tour
}

func nearestNeighbourTour(coords []Point) []int {
	n := len(coords)
	visited := make([]bool, n)
	tour := make([]int, 0, n+1)
	cur := 0
	visited[cur] = true
	tour = append(tour, cur)
	for len(tour) < n {
		best, bestD := -1, 0.0
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			d := Dist(coords[cur], coords[j])
			if best < 0 || d < bestD {
				best, bestD = j, d
			}
		}
		visited[best] = true
		tour = append(tour, best)
		cur = best
	}
	return append(tour, tour[0])
}

// twoOpt improves the closed tour in place by segment reversal.
// a=T[i-1], b=T[i], c=T[k], d=T[k+1]; gain = w(a,b)+w(c,d)-w(a,c)-w(b,d).
func twoOpt(ctx context.Context, coords []Point, tour []int, opts TourOptions) {
	n := len(tour) - 1
	if n < 4 {
		return
	}
	var deadline time.Time
	if opts.TimeLimit > 0 {
		deadline = time.Now().Add(opts.TimeLimit)
	}
	expired := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return !deadline.IsZero() && time.Now().After(deadline)
	}

	for pass := 0; opts.MaxPasses == 0 || pass < opts.MaxPasses; pass++ {
		improved := false
		for i := 1; i <= n-2; i++ {
			if i%64 == 0 && expired() {
				return
			}
			a, b := tour[i-1], tour[i]
			wab := Dist(coords[a], coords[b])
			for k := i + 1; k <= n-1; k++ {
				c, d := tour[k], tour[k+1]
				gain := wab + Dist(coords[c], coords[d]) - Dist(coords[a], coords[c]) - Dist(coords[b], coords[d])
				if gain > opts.Eps {
					reverse(tour[i : k+1])
					improved = true
					b = tour[i]
					wab = Dist(coords[a], coords[b])
				}
			}
		}
		if !improved || expired() {
			return
		}
	}
}

func reverse(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
