package models

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// Slice represents a single DICOM slice file with the geometry needed
// to order it inside its series
type Slice struct {
	// Path is the source file of the slice and its identity
	Path string

	// Position is ImagePositionPatient in millimeters
	Position r3.Vec

	// HasPosition reports whether Position was present in the file
	HasPosition bool

	// InstanceNumber is the acquisition instance number
	InstanceNumber int

	// HasInstanceNumber reports whether InstanceNumber was present in the file
	HasInstanceNumber bool
}

// Valid reports whether the slice carries both position and instance number.
func (s Slice) Valid() bool {
	return s.HasPosition && s.HasInstanceNumber
}

// Series is one acquisition folder inside a patient folder
type Series struct {
	// FolderID is the series folder name, used verbatim in artifact names
	FolderID string

	// Dir is the absolute path of the series folder
	Dir string

	// Description is the raw SeriesDescription (or a placeholder)
	Description string

	// Files are the eligible slice files, sorted by name
	Files []string
}

// SliceCount returns the number of eligible files in the series.
func (s Series) SliceCount() int {
	return len(s.Files)
}

// ModalityRecord is one row of the per-patient manifest
type ModalityRecord struct {
	SubfolderNumber   string
	SeriesDescription string
}
