// Package conversion resolves one DICOM series into exactly one artifact:
// a copied single file, a compressed volume (possibly rescued from the
// longest consistent slice run) or a verbatim copy of the folder.
package conversion

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dcmreface/internal/models"
	"dcmreface/pkg/dicommeta"
	"dcmreface/pkg/geometry"
	"dcmreface/pkg/reconstruction"
)

// VolumeBuilder assembles slice files into a compressed volume.
type VolumeBuilder interface {
	BuildSeries(dir, dest string) error
	BuildSlices(paths []string, dest string) error
}

// MetadataReader reads pixel-free slice metadata.
type MetadataReader interface {
	Read(path string) (dicommeta.Meta, error)
}

// Converter turns series into artifacts under a patient's original/ folder.
type Converter struct {
	builder  VolumeBuilder
	reader   MetadataReader
	geometry geometry.Options
	logger   *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithGeometry sets the tolerance and minimum run length used by rescue.
func WithGeometry(opts geometry.Options) Option {
	return func(c *Converter) {
		c.geometry = opts
	}
}

// New creates a Converter. Builder and reader are required.
func New(builder VolumeBuilder, reader MetadataReader, opts ...Option) (*Converter, error) {
	if builder == nil {
		return nil, errors.New("volume builder is required")
	}
	if reader == nil {
		return nil, errors.New("metadata reader is required")
	}
	c := &Converter{
		builder:  builder,
		reader:   reader,
		geometry: geometry.DefaultOptions(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Describe returns the raw description of the series' first file.
func (c *Converter) Describe(series models.Series) string {
	if len(series.Files) == 0 {
		return UnknownDescription
	}
	return Describe(c.reader, series.Files[0], c.logger)
}

// Convert produces exactly one outcome for the series. Builder and rescue
// failures never escape: they end in Unconvertible. The returned error is
// non-nil only when copying the series' data into originalDir fails.
func (c *Converter) Convert(series models.Series, patientID, originalDir string) (models.ConversionOutcome, error) {
	stem := ArtifactStem(patientID, series.FolderID, series.Description)
	logger := c.logger.With("patient", patientID, "series", series.FolderID)

	switch series.SliceCount() {
	case 0:
		return nil, fmt.Errorf("series %s has no slice files", series.FolderID)
	case 1:
		dest := filepath.Join(originalDir, stem+".dcm")
		if err := copyFile(series.Files[0], dest); err != nil {
			return nil, fmt.Errorf("copying single slice of series %s: %w", series.FolderID, err)
		}
		logger.Info("single file copied", "artifact", filepath.Base(dest))
		return models.SinglePassthrough{Path: dest}, nil
	}

	dest := filepath.Join(originalDir, stem+".nii.gz")
	err := c.builder.BuildSeries(series.Dir, dest)
	if err == nil {
		logger.Info("volume converted", "artifact", filepath.Base(dest), "slices", series.SliceCount())
		return models.Volume{Path: dest, SliceCount: series.SliceCount()}, nil
	}

	if errors.Is(err, reconstruction.ErrNoOutputProduced) {
		logger.Warn("standard conversion failed, attempting rescue", "error", err)
		result, rerr := c.Rescue(series, dest)
		if rerr == nil {
			logger.Info("rescued volume converted", "artifact", filepath.Base(dest), "slices", result.Run.Len())
			return models.Volume{Path: dest, Rescued: true, SliceCount: result.Run.Len()}, nil
		}
		logger.Warn("rescue failed", "error", rerr)
	} else {
		logger.Warn("volume builder failed", "error", err)
	}

	os.Remove(dest)
	folder := filepath.Join(originalDir, stem)
	if err := copyTree(series.Dir, folder); err != nil {
		return nil, fmt.Errorf("copying series %s verbatim: %w", series.FolderID, err)
	}
	logger.Info("series copied verbatim", "artifact", filepath.Base(folder))
	return models.Unconvertible{Path: folder}, nil
}
