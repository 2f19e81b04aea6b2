// Package launcher validates the defacing launcher script and, when needed,
// prepares a patched private copy that pins the container platform.
package launcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// ErrInvalidLauncher is returned when the launcher path is not a regular file.
var ErrInvalidLauncher = errors.New("launcher is not a regular file")

// Options controls the platform patch
type Options struct {
	// Patch enables rewriting the docker invocation
	Patch bool

	// PlatformFlag is inserted into TargetLine when absent from the script
	PlatformFlag string

	// TargetLine is the docker invocation prefix to rewrite
	TargetLine string

	Logger *slog.Logger
}

// DefaultOptions returns the patch settings for Apple Silicon hosts.
func DefaultOptions() Options {
	return Options{
		Patch:        true,
		PlatformFlag: "--platform linux/amd64",
		TargetLine:   "docker run --rm -ti --mount",
	}
}

// Launcher is the executable used for the whole batch. It does not change
// after Prepare returns.
type Launcher struct {
	// Path is the script to execute, either the original or a patched copy
	Path string

	// Original is the script given by the user
	Original string

	patched bool
}

// Patched reports whether Path is a private patched copy.
func (l *Launcher) Patched() bool {
	return l.patched
}

// Close removes the patched copy, if any.
func (l *Launcher) Close() error {
	if l == nil || !l.patched {
		return nil
	}
	if err := os.Remove(l.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prepare checks the launcher, makes it executable and, if its docker
// invocation lacks the platform flag, writes a patched copy to a temp file.
// Only an invalid launcher is an error; patch problems are logged and the
// original script is used.
func Prepare(path string, opts Options) (*Launcher, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidLauncher, path)
	}
	if err := os.Chmod(path, 0755); err != nil {
		logger.Debug("could not make launcher executable", "path", path, "error", err)
	}

	l := &Launcher{Path: path, Original: path}
	if !opts.Patch {
		return l, nil
	}

	patchedPath, err := writePatchedCopy(path, opts)
	if err != nil {
		logger.Warn("launcher patch failed, using original script", "path", path, "error", err)
		return l, nil
	}
	if patchedPath != "" {
		logger.Info("launcher patched for platform", "flag", opts.PlatformFlag, "copy", patchedPath)
		l.Path = patchedPath
		l.patched = true
	}
	return l, nil
}

// writePatchedCopy returns "" when the script already carries the flag, and
// an error when the target line is not in the script.
func writePatchedCopy(path string, opts Options) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	script := string(content)
	if strings.Contains(script, opts.PlatformFlag) {
		return "", nil
	}

	if opts.TargetLine == "" || !strings.Contains(script, opts.TargetLine) {
		return "", fmt.Errorf("target line %q not found", opts.TargetLine)
	}

	replacement := opts.TargetLine + " " + opts.PlatformFlag
	if head, ok := strings.CutSuffix(opts.TargetLine, " --mount"); ok {
		replacement = head + " " + opts.PlatformFlag + " --mount"
	}
	script = strings.ReplaceAll(script, opts.TargetLine, replacement)

	f, err := os.CreateTemp("", "reface-*.sh")
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Chmod(f.Name(), 0755); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
