package geometry

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmreface/internal/models"
)

// makeSlices builds slices along z starting at z0 with the given spacings
// between consecutive slices.
func makeSlices(z0 float64, spacings ...float64) []models.Slice {
	slices := []models.Slice{newSlice(0, z0)}
	z := z0
	for i, s := range spacings {
		z += s
		slices = append(slices, newSlice(i+1, z))
	}
	return slices
}

func newSlice(idx int, z float64) models.Slice {
	return models.Slice{
		Path:              fmt.Sprintf("slice_%03d.dcm", idx),
		Position:          r3.Vec{X: -120, Y: -110, Z: z},
		HasPosition:       true,
		InstanceNumber:    idx + 1,
		HasInstanceNumber: true,
	}
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestLongestConsistentRunUniformSpacingReturnsAll(t *testing.T) {
	for _, n := range []int{5, 10, 37} {
		t.Run(fmt.Sprintf("%d slices", n), func(t *testing.T) {
			slices := makeSlices(-40, repeat(2.0, n-1)...)

			run, err := LongestConsistentRun(slices, DefaultOptions())
			require.NoError(t, err)
			assert.Equal(t, n, run.Len())
			assert.InDelta(t, 2.0, run.MeanSpacing, 1e-9)
			assert.InDelta(t, 0.0, run.SpacingStdDev, 1e-9)
		})
	}
}

func TestLongestConsistentRunIgnoresInputOrder(t *testing.T) {
	slices := makeSlices(0, repeat(1.5, 11)...)
	shuffled := append([]models.Slice(nil), slices...)
	rand.New(rand.NewSource(7)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	run, err := LongestConsistentRun(shuffled, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, slices, run.Slices)
}

func TestLongestConsistentRunSingleDiscontinuity(t *testing.T) {
	tests := []struct {
		name      string
		first     int
		second    int
		wantFirst bool
		wantLen   int
	}{
		// the jump into the second segment already uses its spacing
		{"first segment longer", 8, 4, true, 8},
		{"second segment longer", 5, 9, false, 9},
		{"tie keeps first segment", 6, 6, true, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spacings := append(repeat(2.0, tt.first-1), repeat(3.0, tt.second)...)
			slices := makeSlices(0, spacings...)
			require.Len(t, slices, tt.first+tt.second)

			run, err := LongestConsistentRun(slices, DefaultOptions())
			require.NoError(t, err)
			require.Equal(t, tt.wantLen, run.Len())

			if tt.wantFirst {
				assert.Equal(t, slices[:tt.first], run.Slices)
			} else {
				assert.Equal(t, slices[tt.first:], run.Slices)
			}
		})
	}
}

func TestLongestConsistentRunTwelveSliceRescue(t *testing.T) {
	// slices 0-7 at 2.0 mm, slices 8-11 at 5.0 mm
	spacings := append(repeat(2.0, 7), repeat(5.0, 4)...)
	slices := makeSlices(10, spacings...)

	run, err := LongestConsistentRun(slices, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 8, run.Len())
	assert.Equal(t, slices[:8], run.Slices)
	assert.Equal(t, "slice_007.dcm", run.Paths()[7])
}

func TestLongestConsistentRunInsufficientData(t *testing.T) {
	t.Run("fewer than five slices", func(t *testing.T) {
		_, err := LongestConsistentRun(makeSlices(0, 2, 2, 2), DefaultOptions())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("missing geometry", func(t *testing.T) {
		slices := makeSlices(0, repeat(2.0, 9)...)
		for i := range slices {
			if i%2 == 0 {
				slices[i].HasPosition = false
			} else {
				slices[i].HasInstanceNumber = false
			}
		}
		_, err := LongestConsistentRun(slices, DefaultOptions())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := LongestConsistentRun(nil, DefaultOptions())
		assert.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("single valid slice with low minimum", func(t *testing.T) {
		opts := DefaultOptions()
		opts.MinRunLength = 1
		_, err := LongestConsistentRun(makeSlices(0), opts)
		assert.ErrorIs(t, err, ErrInsufficientData)
	})
}

func TestLongestConsistentRunTooShort(t *testing.T) {
	// no two consecutive increments agree
	slices := makeSlices(0, 1, 2, 3, 4, 5, 6, 7)
	_, err := LongestConsistentRun(slices, DefaultOptions())
	assert.ErrorIs(t, err, ErrRunTooShort)
}

func TestLongestConsistentRunDriftDoesNotBreakRun(t *testing.T) {
	// each increment differs from its predecessor by less than the tolerance
	spacings := make([]float64, 20)
	s := 2.0
	for i := range spacings {
		spacings[i] = s
		s += s * 5e-6
	}
	slices := makeSlices(0, spacings...)

	run, err := LongestConsistentRun(slices, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, len(slices), run.Len())
}

func TestOptionsClose(t *testing.T) {
	opts := DefaultOptions()
	assert.True(t, opts.Close(2.0, 2.0))
	assert.True(t, opts.Close(2.00001, 2.0))
	assert.False(t, opts.Close(2.001, 2.0))
	assert.False(t, opts.Close(5.0, 2.0))
}
