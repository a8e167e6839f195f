package calibrate

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// DefaultTargetSampleCount is the number of accepted views after which a session solves.
const DefaultTargetSampleCount = 15

// Observation pairs the detected image corners of one view with the board's world points.
type Observation struct {
	ImagePoints []r2.Point
	WorldPoints []r3.Vector
}

// ObservationSet is an ordered list of observations of one board geometry.
type ObservationSet struct {
	Geometry     BoardGeometry
	Observations []Observation
}

// Len returns the number of views.
func (s ObservationSet) Len() int {
	return len(s.Observations)
}

// PointCount returns the total number of corner correspondences.
func (s ObservationSet) PointCount() int {
	n := 0
	for _, o := range s.Observations {
		n += len(o.ImagePoints)
	}
	return n
}

// Accumulator collects the observations of a session until the target sample count is reached.
type Accumulator struct {
	geometry BoardGeometry
	world    []r3.Vector
	target   int
	obs      []Observation
}

// NewAccumulator returns an empty accumulator for the board. A target below 1 means
// DefaultTargetSampleCount.
func NewAccumulator(geometry BoardGeometry, target int) (*Accumulator, error) {
	if err := geometry.Validate(); err != nil {
		return nil, err
	}
	if target < 1 {
		target = DefaultTargetSampleCount
	}
	return &Accumulator{geometry: geometry, world: geometry.WorldPoints(), target: target}, nil
}

// Accept stores the corners of one view. Empty input or a corner count different from the board's
// is rejected without changing the accumulator.
func (a *Accumulator) Accept(corners []r2.Point) bool {
	if len(corners) == 0 || len(corners) != len(a.world) {
		return false
	}
	a.obs = append(a.obs, Observation{
		ImagePoints: append([]r2.Point(nil), corners...),
		// the world grid is shared by every stored view and never handed out
		WorldPoints: a.world,
	})
	return true
}

// Count returns the number of accepted views.
func (a *Accumulator) Count() int {
	return len(a.obs)
}

// Target returns the configured target sample count.
func (a *Accumulator) Target() int {
	return a.target
}

// TargetReached reports whether enough views were accepted to solve.
func (a *Accumulator) TargetReached() bool {
	return len(a.obs) >= a.target
}

// Geometry returns the board geometry.
func (a *Accumulator) Geometry() BoardGeometry {
	return a.geometry
}

// Observations returns a copy of the accepted views in order. Changing the returned points or later
// accepts leave the stored observations as they were.
func (a *Accumulator) Observations() ObservationSet {
	out := make([]Observation, len(a.obs))
	for i, o := range a.obs {
		out[i] = Observation{
			ImagePoints: append([]r2.Point(nil), o.ImagePoints...),
			WorldPoints: append([]r3.Vector(nil), o.WorldPoints...),
		}
	}
	return ObservationSet{Geometry: a.geometry, Observations: out}
}

// Reset drops every observation.
func (a *Accumulator) Reset() {
	a.obs = nil
}
