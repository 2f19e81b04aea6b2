package reconstruction

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dcmreface/internal/execx"
)

// Dcm2niix is a Builder backed by the dcm2niix command line converter.
// Output is produced in a private staging directory and the single
// compressed volume is moved to the destination.
type Dcm2niix struct {
	// Path is the dcm2niix executable
	Path string

	Runner execx.Runner
	Logger *slog.Logger
}

// NewDcm2niix returns a builder running the given executable.
func NewDcm2niix(path string, runner execx.Runner, logger *slog.Logger) *Dcm2niix {
	if runner == nil {
		runner = execx.CommandRunner{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dcm2niix{Path: path, Runner: runner, Logger: logger}
}

// BuildSeries converts the series directory in place.
func (d *Dcm2niix) BuildSeries(dir, dest string) error {
	return d.convert(dir, dest)
}

// BuildSlices links the given files into a staging directory and converts
// only those.
func (d *Dcm2niix) BuildSlices(paths []string, dest string) error {
	if len(paths) == 0 {
		return fmt.Errorf("%w: no slices", ErrNoOutputProduced)
	}

	staging, err := os.MkdirTemp("", "dcmreface-slices-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	for i, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		link := filepath.Join(staging, fmt.Sprintf("%05d_%s", i, filepath.Base(p)))
		if err := os.Symlink(abs, link); err != nil {
			return fmt.Errorf("staging %s: %w", p, err)
		}
	}
	return d.convert(staging, dest)
}

func (d *Dcm2niix) convert(input, dest string) error {
	out, err := os.MkdirTemp("", "dcmreface-out-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(out)

	res, err := d.Runner.Run(d.Path, "-z", "y", "-b", "n", "-f", "volume", "-o", out, input)
	if err != nil {
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) {
			d.Logger.Debug("dcm2niix failed", "stderr", string(exitErr.Stderr))
			return fmt.Errorf("%w: %w", ErrNoOutputProduced, err)
		}
		return err
	}
	d.Logger.Debug("dcm2niix finished", "stdout", string(res.Stdout))

	produced, err := filepath.Glob(filepath.Join(out, "*.nii.gz"))
	if err != nil {
		return err
	}
	if len(produced) == 0 {
		return fmt.Errorf("%w: dcm2niix wrote no volume for %s", ErrNoOutputProduced, input)
	}
	if len(produced) > 1 {
		// dcm2niix splits series with inconsistent geometry; the rescue
		// picks the consistent part instead
		return fmt.Errorf("%w: dcm2niix split %s into %d volumes", ErrNoOutputProduced, input, len(produced))
	}
	return moveFile(produced[0], dest)
}
