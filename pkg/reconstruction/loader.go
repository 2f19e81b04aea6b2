package reconstruction

import (
	"fmt"
	"image"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmreface/pkg/dicommeta"
)

// SliceImage is one decoded slice with the geometry needed for assembly
type SliceImage struct {
	Path string

	Rows int
	Cols int

	// PixelSpacing is (row spacing, column spacing) in mm
	PixelSpacing [2]float64

	// RowDir and ColDir are the direction cosines of ImageOrientationPatient
	RowDir r3.Vec
	ColDir r3.Vec

	Position r3.Vec

	// Slope defaults to 1 when RescaleSlope is absent
	Slope     float64
	Intercept float64

	// Pixels holds stored values, row-major
	Pixels []float32
}

// SliceLoader decodes a slice file
type SliceLoader interface {
	Load(path string) (SliceImage, error)
}

// DicomLoader decodes uncompressed single-frame DICOM slices with
// github.com/suyashkumar/dicom.
type DicomLoader struct{}

// Load parses the file including pixel data.
func (DicomLoader) Load(path string) (img SliceImage, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decoding %s: %v", path, rec)
		}
	}()

	dataset, err := dicom.ParseFile(path, nil)
	if err != nil {
		return SliceImage{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	img = SliceImage{Path: path, Slope: 1}

	if img.Rows, err = firstInt(dataset, tag.Rows); err != nil {
		return SliceImage{}, err
	}
	if img.Cols, err = firstInt(dataset, tag.Columns); err != nil {
		return SliceImage{}, err
	}

	spacing, err := decimals(dataset, tag.PixelSpacing, 2)
	if err != nil {
		return SliceImage{}, err
	}
	img.PixelSpacing = [2]float64{spacing[0], spacing[1]}

	orientation, err := decimals(dataset, tag.ImageOrientationPatient, 6)
	if err != nil {
		return SliceImage{}, err
	}
	img.RowDir = r3.Vec{X: orientation[0], Y: orientation[1], Z: orientation[2]}
	img.ColDir = r3.Vec{X: orientation[3], Y: orientation[4], Z: orientation[5]}

	position, err := decimals(dataset, tag.ImagePositionPatient, 3)
	if err != nil {
		return SliceImage{}, err
	}
	img.Position = r3.Vec{X: position[0], Y: position[1], Z: position[2]}

	if v, err := decimals(dataset, tag.RescaleSlope, 1); err == nil && v[0] != 0 {
		img.Slope = v[0]
	}
	if v, err := decimals(dataset, tag.RescaleIntercept, 1); err == nil {
		img.Intercept = v[0]
	}

	signed := false
	if v, err := firstInt(dataset, tag.PixelRepresentation); err == nil {
		signed = v == 1
	}

	bits := 16
	if v, err := firstInt(dataset, tag.BitsAllocated); err == nil {
		bits = v
	}

	pixelElem, err := dataset.FindElementByTag(tag.PixelData)
	if err != nil {
		return SliceImage{}, fmt.Errorf("%s: no pixel data", path)
	}
	info := dicom.MustGetPixelDataInfo(pixelElem.Value)
	if len(info.Frames) != 1 {
		return SliceImage{}, fmt.Errorf("%s: expected 1 frame, got %d", path, len(info.Frames))
	}

	fr := info.Frames[0]
	if fr.IsEncapsulated() {
		return SliceImage{}, fmt.Errorf("%s: encapsulated pixel data is not supported by the native builder", path)
	}
	frameImage, err := fr.GetImage()
	if err != nil {
		return SliceImage{}, fmt.Errorf("%s: %w", path, err)
	}
	bounds := frameImage.Bounds()
	if bounds.Dy() != img.Rows || bounds.Dx() != img.Cols {
		return SliceImage{}, fmt.Errorf("%s: frame is %dx%d, header says %dx%d", path, bounds.Dy(), bounds.Dx(), img.Rows, img.Cols)
	}

	img.Pixels = make([]float32, img.Rows*img.Cols)
	switch g := frameImage.(type) {
	case *image.Gray16:
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Cols; x++ {
				stored := int(g.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
				img.Pixels[y*img.Cols+x] = float32(signedValue(stored, bits, signed))
			}
		}
	case *image.Gray:
		for y := 0; y < img.Rows; y++ {
			for x := 0; x < img.Cols; x++ {
				stored := int(g.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
				img.Pixels[y*img.Cols+x] = float32(signedValue(stored, 8, signed))
			}
		}
	default:
		return SliceImage{}, fmt.Errorf("%s: unsupported photometric layout %T", path, frameImage)
	}

	return img, nil
}

// signedValue reinterprets an unsigned stored sample as two's complement.
func signedValue(v, bits int, signed bool) int {
	if !signed || bits <= 0 || bits >= 32 {
		return v
	}
	if v >= 1<<(bits-1) {
		return v - 1<<bits
	}
	return v
}

func firstInt(dataset dicom.Dataset, t tag.Tag) (int, error) {
	elem, err := dataset.FindElementByTag(t)
	if err != nil {
		return 0, err
	}
	ints, ok := elem.Value.GetValue().([]int)
	if !ok || len(ints) == 0 {
		return 0, fmt.Errorf("tag %v is not an integer", t)
	}
	return ints[0], nil
}

func decimals(dataset dicom.Dataset, t tag.Tag, n int) ([]float64, error) {
	elem, err := dataset.FindElementByTag(t)
	if err != nil {
		return nil, err
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok {
		return nil, fmt.Errorf("tag %v is not a decimal string", t)
	}
	out, err := dicommeta.ParseDecimals(values)
	if err != nil {
		return nil, err
	}
	if len(out) != n {
		return nil, fmt.Errorf("tag %v: expected %d values, got %d", t, n, len(out))
	}
	return out, nil
}
