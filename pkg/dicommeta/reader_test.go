package dicommeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"
)

func mustElement(t *testing.T, tg tag.Tag, value any) *dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(tg, value)
	require.NoError(t, err)
	return elem
}

func TestFromDatasetExtractsGeometry(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.SeriesDescription, []string{" T1 MPRAGE "}),
		mustElement(t, tag.ImagePositionPatient, []string{"-120.5", "-99", "42.25"}),
		mustElement(t, tag.InstanceNumber, []string{"17"}),
	}}

	meta := FromDataset(ds)

	assert.True(t, meta.HasDescription)
	assert.Equal(t, "T1 MPRAGE", meta.SeriesDescription)
	assert.True(t, meta.HasPosition)
	assert.Equal(t, r3.Vec{X: -120.5, Y: -99, Z: 42.25}, meta.Position)
	assert.True(t, meta.HasInstanceNumber)
	assert.Equal(t, 17, meta.InstanceNumber)

	s := meta.Slice("/data/a.dcm")
	assert.True(t, s.Valid())
	assert.Equal(t, "/data/a.dcm", s.Path)
}

func TestFromDatasetMissingAttributes(t *testing.T) {
	ds := dicom.Dataset{Elements: []*dicom.Element{
		mustElement(t, tag.ImagePositionPatient, []string{"1", "2"}),
	}}

	meta := FromDataset(ds)

	assert.False(t, meta.HasDescription)
	assert.False(t, meta.HasPosition)
	assert.False(t, meta.HasInstanceNumber)
	assert.False(t, meta.Slice("x.dcm").Valid())
}

func TestParseDecimalsBackslashSeparated(t *testing.T) {
	values, err := ParseDecimals([]string{`1.5\-2\3e1`})
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2, 30}, values)

	_, err = ParseDecimals([]string{"abc"})
	assert.Error(t, err)
}

func TestFileReaderUnreadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dcm")
	require.NoError(t, os.WriteFile(path, []byte("not a dicom file"), 0644))

	_, err := NewFileReader().Read(path)
	assert.ErrorIs(t, err, ErrUnreadableFile)
}

func TestFileReaderMissingFile(t *testing.T) {
	_, err := NewFileReader().Read(filepath.Join(t.TempDir(), "absent.dcm"))
	assert.ErrorIs(t, err, ErrUnreadableFile)
}
