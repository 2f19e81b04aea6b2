package conversion

//go:generate mockgen -source=converter.go -destination=mocks/mocks.go -package=mocks VolumeBuilder,MetadataReader

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmreface/internal/models"
	"dcmreface/pkg/conversion/mocks"
	"dcmreface/pkg/dicommeta"
	"dcmreface/pkg/geometry"
	"dcmreface/pkg/reconstruction"
)

// =============================================================================
// Converter Test Suite
// =============================================================================
// The converter decides between passthrough, direct conversion, rescue and
// verbatim copy. Builder and metadata reader are mocked; file copies are real.

type ConverterSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	mockBuilder *mocks.MockVolumeBuilder
	mockReader  *mocks.MockMetadataReader
	converter   *Converter
	originalDir string
}

func TestConverterSuite(t *testing.T) {
	suite.Run(t, new(ConverterSuite))
}

func (s *ConverterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockBuilder = mocks.NewMockVolumeBuilder(s.ctrl)
	s.mockReader = mocks.NewMockMetadataReader(s.ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var err error
	s.converter, err = New(s.mockBuilder, s.mockReader, WithLogger(logger), WithGeometry(geometry.DefaultOptions()))
	s.Require().NoError(err)
	s.originalDir = s.T().TempDir()
}

func (s *ConverterSuite) TearDownTest() {
	s.ctrl.Finish()
}

// createSeries writes n placeholder slice files into a fresh folder
func (s *ConverterSuite) createSeries(folderID string, n int) models.Series {
	dir := filepath.Join(s.T().TempDir(), folderID)
	s.Require().NoError(os.MkdirAll(dir, 0755))

	series := models.Series{FolderID: folderID, Dir: dir, Description: "T1 MPRAGE"}
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("IM%03d.dcm", i))
		s.Require().NoError(os.WriteFile(path, []byte(fmt.Sprintf("slice %d", i)), 0644))
		series.Files = append(series.Files, path)
	}
	return series
}

// expectPositions makes the reader report the given z positions per file
func (s *ConverterSuite) expectPositions(series models.Series, zs []float64) {
	metas := make(map[string]dicommeta.Meta, len(zs))
	for i, z := range zs {
		metas[series.Files[i]] = dicommeta.Meta{
			Position:          r3.Vec{Z: z},
			HasPosition:       true,
			InstanceNumber:    i + 1,
			HasInstanceNumber: true,
		}
	}
	s.mockReader.EXPECT().Read(gomock.Any()).DoAndReturn(func(path string) (dicommeta.Meta, error) {
		meta, ok := metas[path]
		if !ok {
			return dicommeta.Meta{}, dicommeta.ErrUnreadableFile
		}
		return meta, nil
	}).Times(len(series.Files))
}

// positionsFromSpacings returns z positions starting at 0
func positionsFromSpacings(spacings ...float64) []float64 {
	zs := []float64{0}
	for _, sp := range spacings {
		zs = append(zs, zs[len(zs)-1]+sp)
	}
	return zs
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// =============================================================================
// Constructor
// =============================================================================

func (s *ConverterSuite) TestNewRequiresCollaborators() {
	_, err := New(nil, s.mockReader)
	s.Error(err)

	_, err = New(s.mockBuilder, nil)
	s.Error(err)
}

// =============================================================================
// Outcomes
// =============================================================================

func (s *ConverterSuite) TestSingleFileIsCopied() {
	series := s.createSeries("9", 1)
	series.Description = "Dose Report"

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)

	want := filepath.Join(s.originalDir, "P001_9_Dose_Report.dcm")
	s.Equal(models.SinglePassthrough{Path: want}, outcome)
	data, err := os.ReadFile(want)
	s.Require().NoError(err)
	s.Equal("slice 0", string(data))
}

func (s *ConverterSuite) TestSeriesConvertsDirectly() {
	series := s.createSeries("3", 20)
	dest := filepath.Join(s.originalDir, "P001_3_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(nil)

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(models.Volume{Path: dest, SliceCount: 20}, outcome)
}

func (s *ConverterSuite) TestEmptyDescriptionIsNamedUnknown() {
	series := s.createSeries("6", 4)
	series.Description = ""
	dest := filepath.Join(s.originalDir, "P001_6_"+UnknownDescription+".nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(nil)

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(dest, outcome.ArtifactPath())
}

func (s *ConverterSuite) TestInconsistentSeriesIsRescued() {
	series := s.createSeries("4", 12)
	dest := filepath.Join(s.originalDir, "P001_4_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).
		Return(fmt.Errorf("%w: spacing differs", reconstruction.ErrNoOutputProduced))
	s.expectPositions(series, positionsFromSpacings(append(repeat(2.0, 7), repeat(5.0, 4)...)...))
	s.mockBuilder.EXPECT().BuildSlices(series.Files[:8], dest).Return(nil)

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(models.Volume{Path: dest, Rescued: true, SliceCount: 8}, outcome)
}

func (s *ConverterSuite) TestRescueSkipsUnreadableSlices() {
	series := s.createSeries("5", 8)
	dest := filepath.Join(s.originalDir, "P001_5_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(reconstruction.ErrNoOutputProduced)
	// only the first 6 files have metadata
	s.expectPositions(series, positionsFromSpacings(repeat(1.5, 5)...))
	s.mockBuilder.EXPECT().BuildSlices(series.Files[:6], dest).Return(nil)

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(models.Volume{Path: dest, Rescued: true, SliceCount: 6}, outcome)
}

func (s *ConverterSuite) TestFailedRescueCopiesFolder() {
	series := s.createSeries("2", 3)
	dest := filepath.Join(s.originalDir, "P001_2_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(reconstruction.ErrNoOutputProduced)
	s.expectPositions(series, []float64{0, 10, 20})

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)

	folder := filepath.Join(s.originalDir, "P001_2_T1_MPRAGE")
	s.Equal(models.Unconvertible{Path: folder}, outcome)
	for _, f := range series.Files {
		s.FileExists(filepath.Join(folder, filepath.Base(f)))
	}
	s.NoFileExists(dest)
}

func (s *ConverterSuite) TestRescueBuildFailureCopiesFolder() {
	series := s.createSeries("6", 6)
	dest := filepath.Join(s.originalDir, "P001_6_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(reconstruction.ErrNoOutputProduced)
	s.expectPositions(series, positionsFromSpacings(repeat(3.0, 5)...))
	s.mockBuilder.EXPECT().BuildSlices(series.Files, dest).Return(reconstruction.ErrNoOutputProduced)

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(models.KindUnconvertible, outcome.Kind())
}

func (s *ConverterSuite) TestOtherBuilderErrorSkipsRescue() {
	series := s.createSeries("7", 4)
	dest := filepath.Join(s.originalDir, "P001_7_T1_MPRAGE.nii.gz")

	s.mockBuilder.EXPECT().BuildSeries(series.Dir, dest).Return(errors.New("disk full"))

	outcome, err := s.converter.Convert(series, "P001", s.originalDir)
	s.Require().NoError(err)
	s.Equal(models.Unconvertible{Path: filepath.Join(s.originalDir, "P001_7_T1_MPRAGE")}, outcome)
}

func (s *ConverterSuite) TestCopyFailureIsReturned() {
	series := s.createSeries("8", 1)

	_, err := s.converter.Convert(series, "P001", filepath.Join(s.originalDir, "missing"))
	s.Error(err)
}

// =============================================================================
// Description lookup
// =============================================================================

func (s *ConverterSuite) TestDescribe() {
	series := s.createSeries("3", 2)

	s.mockReader.EXPECT().Read(series.Files[0]).Return(dicommeta.Meta{SeriesDescription: "Ax FLAIR", HasDescription: true}, nil)
	s.Equal("Ax FLAIR", s.converter.Describe(series))

	s.mockReader.EXPECT().Read(series.Files[0]).Return(dicommeta.Meta{}, nil)
	s.Equal(UnknownDescription, s.converter.Describe(series))

	s.mockReader.EXPECT().Read(series.Files[0]).Return(dicommeta.Meta{HasDescription: true}, nil)
	s.Equal("", s.converter.Describe(series))

	s.mockReader.EXPECT().Read(series.Files[0]).Return(dicommeta.Meta{}, fmt.Errorf("%w: truncated", dicommeta.ErrUnreadableFile))
	s.Equal(ReadErrorDescription, s.converter.Describe(series))
}
