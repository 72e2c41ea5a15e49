// Package instance models a Euclidean TSP instance: node coordinates plus an
// optional reference tour produced by an external solver.
package instance

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/turtacn/GCN-Heatmap/pkg/errors"
)

// Point is a node coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Instance is one TSP instance read from an instance file.
type Instance struct {
	// Index is the zero-based line number of the instance within its file.
	Index int `json:"index"`

	Coords []Point `json:"coords"`

	// Tour is closed (first node repeated at the end) and zero-based. It is
	// empty when the source line carried no solution.
	Tour []int `json:"tour,omitempty"`
}

// N returns the number of nodes.
func (in *Instance) N() int { return len(in.Coords) }

// HasTour reports whether a reference tour is attached.
func (in *Instance) HasTour() bool { return len(in.Tour) > 0 }

// Validate checks the node count against expectedN (ignored when ≤ 0) and,
// when present, that the tour is a closed permutation of the nodes.
func (in *Instance) Validate(expectedN int) error {
	n := in.N()
	if n < 2 {
		return errors.Newf(errors.CodeInstanceMalformed, "instance %d has %d nodes, need at least 2", in.Index, n)
	}
	if expectedN > 0 && n != expectedN {
		return errors.Newf(errors.CodeScaleMismatch, "instance %d has %d nodes, expected %d", in.Index, n, expectedN)
	}
	for i, p := range in.Coords {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return errors.Newf(errors.CodeInstanceMalformed, "instance %d node %d has a non-finite coordinate", in.Index, i)
		}
	}
	if in.HasTour() {
		if err := ValidateTour(in.Tour, n); err != nil {
			return errors.Wrap(err, errors.CodeUnknown, "instance tour").WithDetailf("instance=%d", in.Index)
		}
	}
	return nil
}

// Fingerprint is a stable hex digest of the coordinates. Two instances with
// identical coordinates share a fingerprint regardless of their tours; see
// TourDigest.
func (in *Instance) Fingerprint() string {
	h := sha256.New()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(in.Coords)))
	h.Write(buf[:])
	for _, p := range in.Coords {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.X))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(p.Y))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// TourDigest is a short hex digest of the solver tour, or "" when the
// instance carries none.
func (in *Instance) TourDigest() string {
	if !in.HasTour() {
		return ""
	}
	h := sha256.New()
	var buf [8]byte
	for _, v := range in.Tour {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ValidateTour checks that tour is closed, has length n+1 and visits every
// node in [0, n) exactly once.
func ValidateTour(tour []int, n int) error {
	if len(tour) != n+1 {
		return errors.Newf(errors.CodeTourInvalid, "tour has %d entries, expected %d", len(tour), n+1)
	}
	if tour[0] != tour[n] {
		return errors.Newf(errors.CodeTourInvalid, "tour is not closed: starts at %d, ends at %d", tour[0], tour[n])
	}
	seen := make([]bool, n)
	for i, v := range tour[:n] {
		if v < 0 || v >= n {
			return errors.Newf(errors.CodeTourInvalid, "tour position %d holds node %d outside [0, %d)", i, v, n)
		}
		if seen[v] {
			return errors.Newf(errors.CodeTourInvalid, "tour visits node %d twice", v)
		}
		seen[v] = true
	}
	return nil
}
