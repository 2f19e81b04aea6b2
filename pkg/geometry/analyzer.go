// Package geometry finds the longest run of slices whose spacing is
// mutually consistent. It is used to rescue series that mix two
// acquisitions (gantry tilt change, interrupted scan) in one folder.
package geometry

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"dcmreface/internal/models"
)

var (
	// ErrInsufficientData is returned when too few slices carry geometry.
	ErrInsufficientData = errors.New("insufficient slice geometry")

	// ErrRunTooShort is returned when the longest consistent run is below
	// the minimum run length.
	ErrRunTooShort = errors.New("consistent slice run too short")
)

// Options controls the spacing comparison and the minimum accepted run
type Options struct {
	// RelTolerance and AbsTolerance follow numpy.isclose:
	// |a-b| <= AbsTolerance + RelTolerance*|b|
	RelTolerance float64
	AbsTolerance float64

	// MinRunLength is the number of slices a run needs to be usable
	MinRunLength int
}

// DefaultOptions returns the numpy.isclose tolerances and a minimum run of 5.
func DefaultOptions() Options {
	return Options{
		RelTolerance: 1e-5,
		AbsTolerance: 1e-8,
		MinRunLength: 5,
	}
}

// Close reports whether increment a is close to the reference increment b.
// The comparison is asymmetric, like numpy.isclose.
func (o Options) Close(a, b float64) bool {
	return scalar.EqualWithinAbs(a, b, o.AbsTolerance+o.RelTolerance*math.Abs(b))
}

// Run is a contiguous slice run with its spacing summary
type Run struct {
	Slices []models.Slice

	// MeanSpacing and SpacingStdDev summarize the increments inside the run
	MeanSpacing   float64
	SpacingStdDev float64
}

// Len returns the number of slices in the run.
func (r Run) Len() int {
	return len(r.Slices)
}

// Paths returns the slice file paths in run order.
func (r Run) Paths() []string {
	paths := make([]string, len(r.Slices))
	for i, s := range r.Slices {
		paths[i] = s.Path
	}
	return paths
}

// Increments returns the Euclidean distance between each consecutive pair
// of slices.
func Increments(slices []models.Slice) []float64 {
	if len(slices) < 2 {
		return nil
	}
	out := make([]float64, len(slices)-1)
	for i := 0; i < len(slices)-1; i++ {
		out[i] = r3.Norm(r3.Sub(slices[i+1].Position, slices[i].Position))
	}
	return out
}

// LongestConsistentRun sorts the slices along the third position axis and
// returns the longest run in which every increment is close to the one
// before it. Slices missing position or instance number are ignored.
//
// Each increment is compared only with its predecessor, so a slow drift
// in spacing never breaks a run. When two runs share the maximum length
// the first one wins.
func LongestConsistentRun(slices []models.Slice, opts Options) (Run, error) {
	valid := make([]models.Slice, 0, len(slices))
	for _, s := range slices {
		if s.Valid() {
			valid = append(valid, s)
		}
	}

	if len(valid) < opts.MinRunLength {
		return Run{}, fmt.Errorf("%w: %d valid slices, need %d", ErrInsufficientData, len(valid), opts.MinRunLength)
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Position.Z < valid[j].Position.Z
	})

	increments := Increments(valid)
	if len(increments) == 0 {
		return Run{}, fmt.Errorf("%w: no slice increments", ErrInsufficientData)
	}

	// current and best are [start, end) bounds into valid
	curStart, curEnd := 0, 1
	bestStart, bestEnd := 0, 0
	for i := range increments {
		prev := increments[i]
		if i > 0 {
			prev = increments[i-1]
		}
		if opts.Close(increments[i], prev) {
			curEnd = i + 2
			continue
		}
		if curEnd-curStart > bestEnd-bestStart {
			bestStart, bestEnd = curStart, curEnd
		}
		curStart, curEnd = i+1, i+2
	}
	if curEnd-curStart > bestEnd-bestStart {
		bestStart, bestEnd = curStart, curEnd
	}

	if bestEnd-bestStart < opts.MinRunLength {
		return Run{}, fmt.Errorf("%w: longest run has %d slices, need %d", ErrRunTooShort, bestEnd-bestStart, opts.MinRunLength)
	}

	run := Run{Slices: append([]models.Slice(nil), valid[bestStart:bestEnd]...)}
	if inc := Increments(run.Slices); len(inc) > 0 {
		run.MeanSpacing, run.SpacingStdDev = stat.PopMeanStdDev(inc, nil)
	}
	return run, nil
}
