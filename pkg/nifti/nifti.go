// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz). Only scalar 3D volumes are supported.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/mat"
)

// NIfTI-1 datatype codes
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTUint16  int16 = 512
)

const (
	headerSize   = 348
	voxOffset    = 352
	unitsMM      = 2
	xformScanner = 1
)

// ErrUnsupported is returned for files this package cannot represent.
var ErrUnsupported = errors.New("unsupported NIfTI file")

// header is the on-disk NIfTI-1 header, little endian, packed
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Volume is a 3D scalar image with its voxel-to-world transform
type Volume struct {
	// Dims is the number of voxels along i, j, k
	Dims [3]int

	// Spacing is the voxel size in mm along i, j, k
	Spacing [3]float64

	// Affine maps voxel indices (i, j, k, 1) to RAS+ world millimeters
	Affine *mat.Dense

	// Data holds stored values with i varying fastest
	Data []float32

	// Slope and Intercept rescale stored values to physical ones;
	// a zero Slope means no scaling
	Slope     float64
	Intercept float64

	Description string
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Dims[0] * v.Dims[1] * v.Dims[2]
}

// At returns the stored value at voxel (i, j, k).
func (v *Volume) At(i, j, k int) float32 {
	return v.Data[k*v.Dims[0]*v.Dims[1]+j*v.Dims[0]+i]
}

// Validate checks that the data matches the dimensions.
func (v *Volume) Validate() error {
	for axis, n := range v.Dims {
		if n <= 0 || n > math.MaxInt16 {
			return fmt.Errorf("%w: dimension %d is %d", ErrUnsupported, axis, n)
		}
	}
	if len(v.Data) != v.Len() {
		return fmt.Errorf("%w: %d voxels for dims %v", ErrUnsupported, len(v.Data), v.Dims)
	}
	return nil
}

// storageType picks INT16 when every value is an integer in range, FLOAT32
// otherwise.
func (v *Volume) storageType() int16 {
	for _, f := range v.Data {
		if f != float32(math.Trunc(float64(f))) || f < math.MinInt16 || f > math.MaxInt16 {
			return DTFloat32
		}
	}
	return DTInt16
}

// WriteFile writes the volume to path, gzip-compressed when path ends in .gz.
// A partially written file is removed on error.
func WriteFile(path string, v *Volume) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		defer func() {
			if cerr := gz.Close(); err == nil {
				err = cerr
			}
		}()
		w = gz
	}

	bw := bufio.NewWriter(w)
	if err := Write(bw, v); err != nil {
		return err
	}
	return bw.Flush()
}

// Write encodes the volume as a single-file NIfTI-1 stream.
func Write(w io.Writer, v *Volume) error {
	if err := v.Validate(); err != nil {
		return err
	}

	dt := v.storageType()
	h := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  dt,
		VoxOffset: voxOffset,
		XYZTUnits: unitsMM,
		SformCode: xformScanner,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	h.Dim = [8]int16{3, int16(v.Dims[0]), int16(v.Dims[1]), int16(v.Dims[2]), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, float32(v.Spacing[0]), float32(v.Spacing[1]), float32(v.Spacing[2]), 0, 0, 0, 0}
	if v.Slope != 0 {
		h.SclSlope = float32(v.Slope)
		h.SclInter = float32(v.Intercept)
	}
	copy(h.Descrip[:len(h.Descrip)-1], v.Description)

	switch dt {
	case DTInt16:
		h.Bitpix = 16
	default:
		h.Bitpix = 32
	}

	affine := v.Affine
	if affine == nil {
		affine = SpacingAffine(v.Spacing)
	}
	for c := 0; c < 4; c++ {
		h.SrowX[c] = float32(affine.At(0, c))
		h.SrowY[c] = float32(affine.At(1, c))
		h.SrowZ[c] = float32(affine.At(2, c))
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	// empty extension block
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("writing extension: %w", err)
	}

	switch dt {
	case DTInt16:
		buf := make([]int16, len(v.Data))
		for i, f := range v.Data {
			buf[i] = int16(f)
		}
		return binary.Write(w, binary.LittleEndian, buf)
	default:
		return binary.Write(w, binary.LittleEndian, v.Data)
	}
}

// ReadFile reads a .nii or .nii.gz file.
func ReadFile(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return Read(r)
}

// Read decodes a single-file NIfTI-1 stream.
func Read(r io.Reader) (*Volume, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if h.SizeofHdr != headerSize || !bytes.Equal(h.Magic[:3], []byte("n+1")) {
		return nil, fmt.Errorf("%w: not a single-file NIfTI-1 header", ErrUnsupported)
	}
	if h.Dim[0] < 3 {
		return nil, fmt.Errorf("%w: %d dimensions", ErrUnsupported, h.Dim[0])
	}
	for d := 4; d <= int(h.Dim[0]) && d < 8; d++ {
		if h.Dim[d] > 1 {
			return nil, fmt.Errorf("%w: dimension %d has size %d", ErrUnsupported, d, h.Dim[d])
		}
	}

	v := &Volume{
		Dims:        [3]int{int(h.Dim[1]), int(h.Dim[2]), int(h.Dim[3])},
		Spacing:     [3]float64{float64(h.Pixdim[1]), float64(h.Pixdim[2]), float64(h.Pixdim[3])},
		Slope:       float64(h.SclSlope),
		Intercept:   float64(h.SclInter),
		Description: strings.TrimRight(string(h.Descrip[:]), "\x00"),
	}
	if h.SformCode > 0 {
		v.Affine = mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	} else {
		v.Affine = SpacingAffine(v.Spacing)
	}

	skip := int64(h.VoxOffset) - headerSize
	if skip < 0 {
		return nil, fmt.Errorf("%w: vox_offset %v", ErrUnsupported, h.VoxOffset)
	}
	if _, err := io.CopyN(io.Discard, r, skip); err != nil {
		return nil, fmt.Errorf("skipping extensions: %w", err)
	}

	n := v.Len()
	v.Data = make([]float32, n)
	var err error
	switch h.Datatype {
	case DTUint8:
		err = readInto[uint8](r, v.Data)
	case DTInt16:
		err = readInto[int16](r, v.Data)
	case DTUint16:
		err = readInto[uint16](r, v.Data)
	case DTInt32:
		err = readInto[int32](r, v.Data)
	case DTFloat32:
		err = binary.Read(r, binary.LittleEndian, v.Data)
	case DTFloat64:
		err = readInto[float64](r, v.Data)
	default:
		return nil, fmt.Errorf("%w: datatype %d", ErrUnsupported, h.Datatype)
	}
	if err != nil {
		return nil, fmt.Errorf("reading voxels: %w", err)
	}
	return v, nil
}

func readInto[T uint8 | int16 | uint16 | int32 | float64](r io.Reader, dst []float32) error {
	buf := make([]T, len(dst))
	if err := binary.Read(r, binary.LittleEndian, buf); err != nil {
		return err
	}
	for i, x := range buf {
		dst[i] = float32(x)
	}
	return nil
}

// SpacingAffine returns a diagonal voxel-to-world transform.
func SpacingAffine(spacing [3]float64) *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		spacing[0], 0, 0, 0,
		0, spacing[1], 0, 0,
		0, 0, spacing[2], 0,
		0, 0, 0, 1,
	})
}
