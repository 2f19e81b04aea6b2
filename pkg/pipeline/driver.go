// Package pipeline walks the input tree patient by patient, resolves every
// series to an artifact, writes the modality manifest and defaces the
// resulting volumes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"dcmreface/internal/models"
	"dcmreface/pkg/deface"
	"dcmreface/pkg/metrics"
	"dcmreface/pkg/reconstruction"
	"dcmreface/pkg/visualization"
)

// ErrPatientFailure is matched by every *PatientError.
var ErrPatientFailure = errors.New("patient processing failed")

// PatientError aborts the rest of one patient. Output written before the
// failure is kept. Errors scoped to a single series are logged and counted
// in Summary.SeriesFailures instead.
type PatientError struct {
	PatientID string
	Err       error
}

func (e *PatientError) Error() string {
	return fmt.Sprintf("patient %s: %v", e.PatientID, e.Err)
}

func (e *PatientError) Unwrap() []error {
	return []error{ErrPatientFailure, e.Err}
}

// SeriesConverter resolves one series into an artifact.
type SeriesConverter interface {
	Describe(series models.Series) string
	Convert(series models.Series, patientID, originalDir string) (models.ConversionOutcome, error)
}

// Defacer runs face removal on one compressed volume.
type Defacer interface {
	Deface(volumePath, outputDir string) (deface.Result, error)
}

// Summary counts what a batch did
type Summary struct {
	Patients        int
	PatientFailures int
	SeriesFailures  int

	Outcomes map[models.OutcomeKind]int
	Rescued  int

	Deface       map[deface.State]int
	DefaceErrors int
}

func newSummary() Summary {
	return Summary{
		Outcomes: make(map[models.OutcomeKind]int),
		Deface:   make(map[deface.State]int),
	}
}

// Driver processes every patient folder under an input root.
type Driver struct {
	inputRoot  string
	outputRoot string
	converter  SeriesConverter
	defacer    Defacer
	logger     *slog.Logger
	metrics    *metrics.Metrics
	previews   bool
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = logger
	}
}

// WithMetrics records batch counters into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) {
		d.metrics = m
	}
}

// WithPreviews writes mid-slice JPEG previews of every volume under
// {output}/{patient}/qc/.
func WithPreviews(enabled bool) Option {
	return func(d *Driver) {
		d.previews = enabled
	}
}

// New creates a Driver.
func New(inputRoot, outputRoot string, converter SeriesConverter, defacer Defacer, opts ...Option) (*Driver, error) {
	if inputRoot == "" || outputRoot == "" {
		return nil, errors.New("input and output roots are required")
	}
	if converter == nil {
		return nil, errors.New("series converter is required")
	}
	if defacer == nil {
		return nil, errors.New("defacer is required")
	}
	d := &Driver{
		inputRoot:  inputRoot,
		outputRoot: outputRoot,
		converter:  converter,
		defacer:    defacer,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// PatientID returns the folder name up to the first underscore.
func PatientID(folder string) string {
	id, _, _ := strings.Cut(folder, "_")
	return id
}

// Run processes all patients in sorted order. A failing patient is logged
// and counted; the batch continues. Cancelling ctx stops the batch before
// the next patient starts.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	summary := newSummary()

	folders, err := subdirectories(d.inputRoot)
	if err != nil {
		return summary, fmt.Errorf("listing patients in %s: %w", d.inputRoot, err)
	}
	d.logger.Info("batch started", "patients", len(folders), "input", d.inputRoot, "output", d.outputRoot)

	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			d.logger.Warn("batch stopped before completion", "remaining_from", folder, "error", err)
			return summary, err
		}

		summary.Patients++
		if d.metrics != nil {
			d.metrics.IncrementPatient()
		}
		if err := d.processPatient(folder, &summary); err != nil {
			summary.PatientFailures++
			if d.metrics != nil {
				d.metrics.IncrementPatientFailure()
			}
			d.logger.Error("patient failed", "patient", PatientID(folder), "folder", folder, "error", err)
		}
	}

	d.logSummary(summary)
	return summary, nil
}

// processPatient is the per-patient failure boundary.
func (d *Driver) processPatient(folder string, summary *Summary) (err error) {
	patientID := PatientID(folder)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Debug("patient panic", "patient", patientID, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			err = &PatientError{PatientID: patientID, Err: err}
		}
		if d.metrics != nil {
			d.metrics.ObservePatientDuration(start)
		}
	}()

	logger := d.logger.With("patient", patientID)
	logger.Info("processing patient", "folder", folder)

	patientDir := filepath.Join(d.outputRoot, patientID)
	originalDir := filepath.Join(patientDir, "original")
	defacedDir := filepath.Join(patientDir, "defaced")
	for _, dir := range []string{originalDir, defacedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	seriesFolders, err := subdirectories(filepath.Join(d.inputRoot, folder))
	if err != nil {
		return err
	}

	var records []models.ModalityRecord
	var volumes []string
	for _, seriesFolder := range seriesFolders {
		dir := filepath.Join(d.inputRoot, folder, seriesFolder)
		files, err := reconstruction.ListSliceFiles(dir)
		if err != nil {
			d.seriesFailed(logger, seriesFolder, err, summary)
			continue
		}
		if len(files) == 0 {
			logger.Info("series has no DICOM files, skipping", "series", seriesFolder)
			continue
		}

		series := models.Series{FolderID: seriesFolder, Dir: dir, Files: files}
		series.Description = d.converter.Describe(series)
		records = append(records, models.ModalityRecord{
			SubfolderNumber:   seriesFolder,
			SeriesDescription: series.Description,
		})
		logger.Info("processing series", "series", seriesFolder, "description", series.Description, "files", len(files))

		outcome, err := d.converter.Convert(series, patientID, originalDir)
		if err != nil {
			d.seriesFailed(logger, seriesFolder, err, summary)
			continue
		}
		summary.Outcomes[outcome.Kind()]++
		rescued := false
		if v, ok := outcome.(models.Volume); ok {
			rescued = v.Rescued
			if rescued {
				summary.Rescued++
			}
			volumes = append(volumes, v.Path)
			d.writePreviews(logger, v.Path, patientDir)
		}
		if d.metrics != nil {
			d.metrics.ObserveSeries(outcome.Kind().String(), rescued)
		}
	}

	manifest := ManifestPath(originalDir, patientID)
	if err := WriteManifest(manifest, records); err != nil {
		return err
	}
	logger.Info("modality manifest written", "path", filepath.Base(manifest), "series", len(records))

	if len(volumes) == 0 {
		logger.Info("no volumes to deface")
		return nil
	}

	logger.Info("defacing volumes", "count", len(volumes))
	for _, volume := range volumes {
		d.defaceVolume(logger, volume, defacedDir, summary)
	}
	return nil
}

// seriesFailed records a series that produced no artifact. The rest of the
// patient continues.
func (d *Driver) seriesFailed(logger *slog.Logger, seriesFolder string, err error, summary *Summary) {
	logger.Error("series failed", "series", seriesFolder, "error", err)
	summary.SeriesFailures++
	if d.metrics != nil {
		d.metrics.ObserveSeries("failed", false)
	}
}

// defaceVolume handles one volume; failures are logged and do not affect
// the remaining volumes.
func (d *Driver) defaceVolume(logger *slog.Logger, volume, defacedDir string, summary *Summary) {
	res, err := d.defacer.Deface(volume, defacedDir)
	if err != nil {
		var toolErr *deface.ToolError
		if errors.As(err, &toolErr) {
			logger.Error("defacing tool failed",
				"volume", filepath.Base(volume),
				"exit_code", toolErr.ExitCode,
				"stdout", toolErr.Stdout,
				"stderr", toolErr.Stderr,
			)
			summary.Deface[deface.StateToolError]++
			d.observeDeface(deface.StateToolError.String())
			return
		}
		logger.Error("defacing failed", "volume", filepath.Base(volume), "error", err)
		summary.DefaceErrors++
		d.observeDeface("error")
		return
	}

	summary.Deface[res.State]++
	d.observeDeface(res.State.String())
	if res.State == deface.StateResultMissing {
		logger.Warn("defaced output not found", "volume", filepath.Base(volume), "expected", filepath.Base(res.ExpectedPath))
	}
}

func (d *Driver) observeDeface(state string) {
	if d.metrics != nil {
		d.metrics.ObserveDeface(state)
	}
}

func (d *Driver) writePreviews(logger *slog.Logger, volume, patientDir string) {
	if !d.previews {
		return
	}
	stem := strings.TrimSuffix(filepath.Base(volume), ".nii.gz")
	written, err := visualization.SavePreviews(volume, filepath.Join(patientDir, "qc"), stem)
	if err != nil {
		logger.Warn("could not write previews", "volume", filepath.Base(volume), "error", err)
		return
	}
	logger.Debug("previews written", "volume", filepath.Base(volume), "count", len(written))
}

func (d *Driver) logSummary(s Summary) {
	d.logger.Info("batch finished",
		"patients", s.Patients,
		"patient_failures", s.PatientFailures,
		"series_failures", s.SeriesFailures,
		"passthrough", s.Outcomes[models.KindSinglePassthrough],
		"volumes", s.Outcomes[models.KindVolume],
		"rescued", s.Rescued,
		"unconvertible", s.Outcomes[models.KindUnconvertible],
		"defaced", s.Deface[deface.StateResultFound],
		"deface_missing", s.Deface[deface.StateResultMissing],
		"deface_tool_errors", s.Deface[deface.StateToolError],
		"deface_errors", s.DefaceErrors,
	)
}

// subdirectories lists the immediate subdirectories of dir, sorted.
func subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
