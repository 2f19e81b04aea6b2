// Package deface runs the external face-removal tool on one compressed
// volume at a time and manages the temporary files around it.
package deface

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"dcmreface/internal/execx"
	"dcmreface/pkg/conversion"
)

// ErrToolInvocationFailed is matched by every *ToolError.
var ErrToolInvocationFailed = errors.New("defacing tool failed")

// State is the terminal state of one Deface call
type State int

const (
	// StateResultFound means the defaced volume was recompressed into place
	StateResultFound State = iota

	// StateResultMissing means the tool exited cleanly but wrote nothing
	StateResultMissing

	// StateToolError means the tool exited with a non-zero status
	StateToolError
)

func (s State) String() string {
	switch s {
	case StateResultFound:
		return "found"
	case StateResultMissing:
		return "missing"
	case StateToolError:
		return "tool_error"
	default:
		return "unknown"
	}
}

// ToolError carries the captured output of a failed tool run.
type ToolError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	err      error
}

func (e *ToolError) Error() string {
	name := "defacing tool"
	if len(e.Args) > 0 {
		name = filepath.Base(e.Args[0])
	}
	return fmt.Sprintf("%s exited with status %d", name, e.ExitCode)
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolInvocationFailed, e.err}
}

// Result describes what happened to one volume
type Result struct {
	State State

	// FinalPath is set only for StateResultFound
	FinalPath string

	// ExpectedPath is where the tool was expected to write its output
	ExpectedPath string
}

// Orchestrator invokes the defacing launcher.
type Orchestrator struct {
	executable string
	saveQC     bool
	runner     execx.Runner
	logger     *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner replaces the subprocess runner.
func WithRunner(r execx.Runner) Option {
	return func(o *Orchestrator) {
		o.runner = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithQCRenders asks the tool to save its QC renders.
func WithQCRenders(save bool) Option {
	return func(o *Orchestrator) {
		o.saveQC = save
	}
}

// New returns an Orchestrator running executable.
func New(executable string, opts ...Option) (*Orchestrator, error) {
	if executable == "" {
		return nil, errors.New("defacing executable is required")
	}
	o := &Orchestrator{
		executable: executable,
		runner:     execx.CommandRunner{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Args returns the tool command line for an uncompressed input.
func (o *Orchestrator) Args(inputPath, outputDir string) []string {
	args := []string{inputPath, outputDir}
	if imType, ok := conversion.InferImageType(filepath.Base(inputPath)); ok {
		args = append(args, "-imType", imType)
	}
	qc := "0"
	if o.saveQC {
		qc = "1"
	}
	return append(args, "-saveQCRenders", qc)
}

// Deface decompresses volumePath (X.nii.gz) next to itself, runs the tool
// with outputDir as destination and recompresses {stem}_deFaced.nii into
// {stem}_defaced.nii.gz. The decompressed input and the raw tool output are
// removed on every path.
func (o *Orchestrator) Deface(volumePath, outputDir string) (res Result, err error) {
	if !strings.HasSuffix(volumePath, ".nii.gz") {
		return Result{}, fmt.Errorf("%s is not a .nii.gz volume", volumePath)
	}
	stem := strings.TrimSuffix(filepath.Base(volumePath), ".nii.gz")
	tempInput := strings.TrimSuffix(volumePath, ".gz")
	res.ExpectedPath = filepath.Join(outputDir, stem+"_deFaced.nii")
	logger := o.logger.With("volume", filepath.Base(volumePath))

	defer func() {
		for _, p := range []string{tempInput, res.ExpectedPath} {
			if rmErr := os.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
				logger.Warn("failed to remove temporary file", "path", p, "error", rmErr)
			}
		}
	}()

	logger.Debug("decompressing volume", "to", tempInput)
	if err := gunzipFile(volumePath, tempInput); err != nil {
		return res, fmt.Errorf("decompressing %s: %w", volumePath, err)
	}

	args := o.Args(tempInput, outputDir)
	logger.Info("running defacing tool", "args", args)
	if _, err := o.runner.Run(o.executable, args...); err != nil {
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) {
			res.State = StateToolError
			return res, &ToolError{
				Args:     exitErr.Args,
				ExitCode: exitErr.ExitCode,
				Stdout:   string(exitErr.Stdout),
				Stderr:   string(exitErr.Stderr),
				err:      err,
			}
		}
		return res, fmt.Errorf("running defacing tool: %w", err)
	}

	if _, statErr := os.Stat(res.ExpectedPath); statErr != nil {
		res.State = StateResultMissing
		logger.Warn("defacing tool produced no output", "expected", filepath.Base(res.ExpectedPath))
		return res, nil
	}

	final := filepath.Join(outputDir, stem+"_defaced.nii.gz")
	if err := gzipFile(res.ExpectedPath, final); err != nil {
		return res, fmt.Errorf("compressing %s: %w", res.ExpectedPath, err)
	}
	res.State = StateResultFound
	res.FinalPath = final
	logger.Info("defaced volume saved", "artifact", filepath.Base(final))
	return res, nil
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	return writeAll(dst, gz)
}

// gzipFile compresses src into dst; dst is removed when anything fails.
func gzipFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		return err
	}
	return gz.Close()
}

func writeAll(dst string, r io.Reader) (err error) {
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(out, r)
	return err
}
