// Package execx runs external tools and captures their output.
package execx

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result contains the captured output of a finished process.
type Result struct {
	Args     []string
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ExitError is returned when a process ran but exited non-zero. Stdout
// and Stderr are kept as separate fields so callers can inspect them.
type ExitError struct {
	Result
}

func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s exited with status %d", strings.Join(e.Args, " "), e.ExitCode)
}

// Runner starts a process and blocks until it exits
type Runner interface {
	Run(name string, args ...string) (*Result, error)
}

// CommandRunner runs commands with os/exec. There is no timeout: a hung
// process blocks the caller.
type CommandRunner struct {
	// Dir is the working directory, empty for the current one
	Dir string
}

// Run executes name with args. A non-zero exit yields *ExitError together
// with the captured result; a failure to start yields a plain error.
func (r CommandRunner) Run(name string, args ...string) (*Result, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{
		Args:   append([]string{name}, args...),
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Result: *res}
		}
		return res, fmt.Errorf("failed to execute %s: %w", name, err)
	}
	return res, nil
}
