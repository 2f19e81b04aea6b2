// Package visualization renders orthogonal preview slices of a volume for
// quick visual QC of conversion results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"slices"

	"gonum.org/v1/gonum/stat"

	"dcmreface/pkg/nifti"
)

const (
	// lowQuantile and highQuantile bound the display window
	lowQuantile  = 0.01
	highQuantile = 0.99
)

// Viewer extracts 2D slices from a volume for display
type Viewer struct {
	// volumeData holds physical values normalized to [0, 1]
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int
}

// NewViewer creates a viewer for vol. Intensities are windowed between the
// 1st and 99th percentiles of the rescaled values.
func NewViewer(vol *nifti.Volume) (*Viewer, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}

	slope := vol.Slope
	if slope == 0 {
		slope = 1
	}
	data := make([]float64, len(vol.Data))
	for i, f := range vol.Data {
		data[i] = float64(f)*slope + vol.Intercept
	}

	sorted := slices.Clone(data)
	slices.Sort(sorted)
	lo := stat.Quantile(lowQuantile, stat.Empirical, sorted, nil)
	hi := stat.Quantile(highQuantile, stat.Empirical, sorted, nil)
	span := hi - lo
	for i, f := range data {
		if span <= 0 {
			data[i] = 0
			continue
		}
		data[i] = math.Max(0, math.Min(1, (f-lo)/span))
	}

	return &Viewer{
		volumeData: data,
		width:      vol.Dims[0],
		height:     vol.Dims[1],
		depth:      vol.Dims[2],
	}, nil
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane, superior at the top
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewGray16(image.Rect(0, 0, v.height, v.depth))
		for z := 0; z < v.depth; z++ {
			for y := 0; y < v.height; y++ {
				img.SetGray16(y, v.depth-1-z, v.gray(position, y, z))
			}
		}

	case "y", "Y":
		// XZ plane, superior at the top
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, v.depth-1-z, v.gray(x, position, z))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetGray16(x, y, v.gray(x, y, position))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

func (v *Viewer) gray(x, y, z int) color.Gray16 {
	value := v.volumeData[z*v.width*v.height+y*v.width+x]
	return color.Gray16{Y: uint16(math.Round(value * 65535))}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveMidSlices writes the middle slice along each axis as
// {stem}_{x|y|z}.jpg in outputDir and returns the written paths.
func (v *Viewer) SaveMidSlices(outputDir, stem string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	mids := []struct {
		axis string
		pos  int
	}{
		{"x", v.width / 2},
		{"y", v.height / 2},
		{"z", v.depth / 2},
	}

	var written []string
	for _, m := range mids {
		img, err := v.ExtractSlice(m.axis, m.pos)
		if err != nil {
			return written, err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jpg", stem, m.axis))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}
	return written, nil
}

// SavePreviews reads a NIfTI volume from disk and writes its mid-slice
// previews.
func SavePreviews(volumePath, outputDir, stem string) ([]string, error) {
	vol, err := nifti.ReadFile(volumePath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", volumePath, err)
	}
	viewer, err := NewViewer(vol)
	if err != nil {
		return nil, err
	}
	return viewer.SaveMidSlices(outputDir, stem)
}
