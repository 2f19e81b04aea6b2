// Package reconstruction assembles DICOM slices into compressed NIfTI
// volumes. Two backends are provided: a native Go builder and a wrapper
// around the dcm2niix converter.
package reconstruction

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoOutputProduced is returned when a valid volume cannot be assembled
// from the given slices (inconsistent geometry, too few slices, corrupt
// files). Callers use it to trigger the rescue path.
var ErrNoOutputProduced = errors.New("no output produced")

// Builder produces one compressed volume artifact at dest
type Builder interface {
	// BuildSeries converts every slice file of a series directory.
	BuildSeries(dir, dest string) error

	// BuildSlices converts an explicit, ordered list of slice files.
	BuildSlices(paths []string, dest string) error
}

var (
	_ Builder = (*Reconstructor)(nil)
	_ Builder = (*Dcm2niix)(nil)
)

// ListSliceFiles returns the eligible slice files of dir (*.dcm, any
// case), sorted by name.
func ListSliceFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".dcm") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// moveFile renames src to dst, copying across devices when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
