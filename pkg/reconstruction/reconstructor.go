package reconstruction

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/mkmik/argsort"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmreface/pkg/geometry"
	"dcmreface/pkg/nifti"
)

const (
	// orientationTolerance bounds the difference between direction cosines
	// of slices in the same volume
	orientationTolerance = 1e-4

	// maxTiltCosine is how far the slice step may deviate from the slice
	// normal before the stack is treated as gantry-tilted
	maxTiltCosine = 1e-3
)

// Params holds the native reconstruction configuration.
type Params struct {
	// Loader decodes slice files. Defaults to DicomLoader.
	Loader SliceLoader

	// Validation is the tolerance used to decide whether pixel spacings and
	// consecutive slice increments agree. It is looser than the rescue
	// tolerance so that rounding jitter in ImagePositionPatient still
	// converts. Defaults to DefaultValidation.
	Validation geometry.Options

	// NumCores bounds the number of slices decoded in parallel.
	NumCores int

	Logger *slog.Logger
}

// DefaultValidation returns rtol 0.05 and atol 0.1, the slice increment
// tolerance conventional DICOM to NIfTI converters accept.
func DefaultValidation() geometry.Options {
	return geometry.Options{
		RelTolerance: 0.05,
		AbsTolerance: 0.1,
		MinRunLength: 2,
	}
}

// Reconstructor is the native Builder. It decodes uncompressed DICOM slices,
// orders them along the slice normal and writes a gzip-compressed NIfTI-1
// volume with a scanner-space affine.
//
// The process consists of:
// 1. Loading and decoding every slice in parallel
// 2. Checking that matrix size, orientation and pixel spacing agree
// 3. Sorting slices along the normal and checking the spacing is uniform
// 4. Building the voxel-to-world affine and writing the volume
type Reconstructor struct {
	params *Params
	logger *slog.Logger
}

// NewReconstructor creates a native builder with the provided parameters.
//
// Parameters:
//   - params: Configuration for loading and geometry checks; nil uses defaults
//
// Returns:
//   - A Reconstructor ready to build volumes
func NewReconstructor(params *Params) *Reconstructor {
	p := Params{}
	if params != nil {
		p = *params
	}
	if p.Loader == nil {
		p.Loader = DicomLoader{}
	}
	if p.Validation == (geometry.Options{}) {
		p.Validation = DefaultValidation()
	}
	if p.NumCores <= 0 {
		p.NumCores = runtime.NumCPU()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Reconstructor{params: &p, logger: p.Logger}
}

// BuildSeries converts every *.dcm file in dir.
func (r *Reconstructor) BuildSeries(dir, dest string) error {
	files, err := ListSliceFiles(dir)
	if err != nil {
		return fmt.Errorf("%w: listing %s: %w", ErrNoOutputProduced, dir, err)
	}
	return r.BuildSlices(files, dest)
}

// BuildSlices converts the given slice files into one volume at dest.
func (r *Reconstructor) BuildSlices(paths []string, dest string) error {
	r.logger.Debug("Step 1: loading slices", "count", len(paths), "dest", dest)
	images, err := r.loadSlices(paths)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoOutputProduced, err)
	}

	r.logger.Debug("Step 2: assembling volume")
	vol, err := Assemble(images, r.params.Validation)
	if err != nil {
		return err
	}

	r.logger.Debug("Step 3: writing volume", "dims", vol.Dims, "spacing", vol.Spacing)
	if err := nifti.WriteFile(dest, vol); err != nil {
		return fmt.Errorf("%w: %w", ErrNoOutputProduced, err)
	}
	return nil
}

// loadSlices decodes all slices using up to NumCores workers. The result
// keeps the input order.
func (r *Reconstructor) loadSlices(paths []string) ([]SliceImage, error) {
	images := make([]SliceImage, len(paths))
	errs := make([]error, len(paths))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(r.params.NumCores, len(paths))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				images[i], errs[i] = r.params.Loader.Load(paths[i])
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return images, nil
}

// Assemble stacks decoded slices into a volume. Every failure wraps
// ErrNoOutputProduced.
func Assemble(images []SliceImage, opts geometry.Options) (*nifti.Volume, error) {
	if len(images) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 slices, got %d", ErrNoOutputProduced, len(images))
	}

	ref := images[0]
	if ref.Rows <= 0 || ref.Cols <= 0 {
		return nil, fmt.Errorf("%w: %s has empty matrix", ErrNoOutputProduced, ref.Path)
	}
	for _, img := range images[1:] {
		if img.Rows != ref.Rows || img.Cols != ref.Cols {
			return nil, fmt.Errorf("%w: %s is %dx%d, expected %dx%d", ErrNoOutputProduced, img.Path, img.Rows, img.Cols, ref.Rows, ref.Cols)
		}
		if !sameDirection(img.RowDir, ref.RowDir) || !sameDirection(img.ColDir, ref.ColDir) {
			return nil, fmt.Errorf("%w: %s has a different orientation", ErrNoOutputProduced, img.Path)
		}
		if !opts.Close(img.PixelSpacing[0], ref.PixelSpacing[0]) || !opts.Close(img.PixelSpacing[1], ref.PixelSpacing[1]) {
			return nil, fmt.Errorf("%w: %s has a different pixel spacing", ErrNoOutputProduced, img.Path)
		}
	}
	for i, img := range images {
		if len(img.Pixels) != img.Rows*img.Cols {
			return nil, fmt.Errorf("%w: slice %d has %d pixels", ErrNoOutputProduced, i, len(img.Pixels))
		}
	}

	normal := r3.Cross(ref.RowDir, ref.ColDir)
	if r3.Norm(normal) == 0 {
		return nil, fmt.Errorf("%w: degenerate orientation", ErrNoOutputProduced)
	}
	normal = r3.Unit(normal)

	projections := make([]float64, len(images))
	for i, img := range images {
		projections[i] = r3.Dot(img.Position, normal)
	}
	order := argsort.SortSlice(projections, func(a, b int) bool {
		return projections[a] < projections[b]
	})

	sorted := make([]SliceImage, len(images))
	for i, idx := range order {
		sorted[i] = images[idx]
	}

	steps := make([]float64, len(sorted)-1)
	for i := range steps {
		steps[i] = projections[order[i+1]] - projections[order[i]]
		if steps[i] == 0 {
			return nil, fmt.Errorf("%w: duplicate slice position at %s", ErrNoOutputProduced, sorted[i+1].Path)
		}
	}
	for i, s := range steps {
		if !opts.Close(s, steps[0]) {
			return nil, fmt.Errorf("%w: slice spacing %.4g at %d differs from %.4g", ErrNoOutputProduced, s, i, steps[0])
		}
	}

	first := sorted[0].Position
	last := sorted[len(sorted)-1].Position
	step := r3.Scale(1/float64(len(sorted)-1), r3.Sub(last, first))
	if math.Abs(r3.Dot(r3.Unit(step), normal)) < 1-maxTiltCosine {
		return nil, fmt.Errorf("%w: slices are not stacked along their normal", ErrNoOutputProduced)
	}

	rowSpacing, colSpacing := ref.PixelSpacing[0], ref.PixelSpacing[1]
	lps := mat.NewDense(4, 4, []float64{
		ref.RowDir.X * colSpacing, ref.ColDir.X * rowSpacing, step.X, first.X,
		ref.RowDir.Y * colSpacing, ref.ColDir.Y * rowSpacing, step.Y, first.Y,
		ref.RowDir.Z * colSpacing, ref.ColDir.Z * rowSpacing, step.Z, first.Z,
		0, 0, 0, 1,
	})
	var affine mat.Dense
	affine.Mul(mat.NewDiagDense(4, []float64{-1, -1, 1, 1}), lps)

	vol := &nifti.Volume{
		Dims:    [3]int{ref.Cols, ref.Rows, len(sorted)},
		Spacing: [3]float64{colSpacing, rowSpacing, r3.Norm(step)},
		Affine:  &affine,
		Data:    make([]float32, ref.Cols*ref.Rows*len(sorted)),
	}

	uniformScale := true
	for _, img := range sorted[1:] {
		if img.Slope != ref.Slope || img.Intercept != ref.Intercept {
			uniformScale = false
			break
		}
	}
	if uniformScale {
		vol.Slope, vol.Intercept = ref.Slope, ref.Intercept
	} else {
		vol.Slope = 1
	}

	plane := ref.Rows * ref.Cols
	for k, img := range sorted {
		dst := vol.Data[k*plane : (k+1)*plane]
		if uniformScale {
			copy(dst, img.Pixels)
			continue
		}
		for i, p := range img.Pixels {
			dst[i] = float32(float64(p)*img.Slope + img.Intercept)
		}
	}
	return vol, nil
}

func sameDirection(a, b r3.Vec) bool {
	d := r3.Sub(a, b)
	return math.Abs(d.X) <= orientationTolerance &&
		math.Abs(d.Y) <= orientationTolerance &&
		math.Abs(d.Z) <= orientationTolerance
}
