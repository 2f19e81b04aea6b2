// Package dicommeta reads the handful of DICOM attributes the pipeline
// needs without decoding pixel data.
package dicommeta

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmreface/internal/models"
)

// ErrUnreadableFile is returned when a file cannot be parsed as DICOM.
var ErrUnreadableFile = errors.New("unreadable DICOM file")

// Meta holds the pixel-free metadata of one slice
type Meta struct {
	// SeriesDescription is empty when HasDescription is false
	SeriesDescription string
	HasDescription    bool

	Position    r3.Vec
	HasPosition bool

	InstanceNumber    int
	HasInstanceNumber bool
}

// Slice converts the metadata into a slice rooted at path.
func (m Meta) Slice(path string) models.Slice {
	return models.Slice{
		Path:              path,
		Position:          m.Position,
		HasPosition:       m.HasPosition,
		InstanceNumber:    m.InstanceNumber,
		HasInstanceNumber: m.HasInstanceNumber,
	}
}

// Reader returns the metadata of a single DICOM file
type Reader interface {
	Read(path string) (Meta, error)
}

// FileReader reads metadata from disk with pixel data skipped
type FileReader struct{}

// NewFileReader returns a Reader backed by github.com/suyashkumar/dicom.
func NewFileReader() *FileReader {
	return &FileReader{}
}

// Read parses path and extracts description, position and instance number.
// Absent attributes are reported through the Has* flags, not as errors.
func (r *FileReader) Read(path string) (meta Meta, err error) {
	// the parser panics on some truncated files
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, rec)
		}
	}()

	dataset, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return Meta{}, fmt.Errorf("%w: %s: %v", ErrUnreadableFile, path, err)
	}
	return FromDataset(dataset), nil
}

// FromDataset extracts Meta from an already parsed dataset.
func FromDataset(dataset dicom.Dataset) Meta {
	var meta Meta

	if values, ok := stringsOf(dataset, tag.SeriesDescription); ok && len(values) > 0 {
		meta.SeriesDescription = strings.TrimSpace(values[0])
		meta.HasDescription = true
	}

	if values, ok := stringsOf(dataset, tag.ImagePositionPatient); ok {
		if pos, err := ParseVec(values); err == nil {
			meta.Position = pos
			meta.HasPosition = true
		}
	}

	if values, ok := stringsOf(dataset, tag.InstanceNumber); ok && len(values) > 0 {
		if n, err := strconv.Atoi(strings.TrimSpace(values[0])); err == nil {
			meta.InstanceNumber = n
			meta.HasInstanceNumber = true
		}
	}

	return meta
}

// ParseVec parses a three-valued decimal string attribute such as
// ImagePositionPatient.
func ParseVec(values []string) (r3.Vec, error) {
	floats, err := ParseDecimals(values)
	if err != nil {
		return r3.Vec{}, err
	}
	if len(floats) != 3 {
		return r3.Vec{}, fmt.Errorf("expected 3 values, got %d", len(floats))
	}
	return r3.Vec{X: floats[0], Y: floats[1], Z: floats[2]}, nil
}

// ParseDecimals parses DS values. Multi-valued attributes may arrive
// either split or as one backslash-separated string.
func ParseDecimals(values []string) ([]float64, error) {
	var out []float64
	for _, v := range values {
		for _, part := range strings.Split(v, `\`) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return nil, fmt.Errorf("parsing decimal %q: %w", part, err)
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func stringsOf(dataset dicom.Dataset, t tag.Tag) ([]string, bool) {
	elem, err := dataset.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	values, ok := elem.Value.GetValue().([]string)
	return values, ok
}
