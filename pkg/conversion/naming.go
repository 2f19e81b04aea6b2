package conversion

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// UnknownDescription replaces a missing or empty series description
	UnknownDescription = "UnknownDescription"

	// ReadErrorDescription is recorded when the first slice of a series
	// cannot be parsed
	ReadErrorDescription = "ReadError"
)

var (
	unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscores = regexp.MustCompile(`_+`)
)

// SanitizeDescription turns a free-text series description into a
// filename-safe component. Applying it twice gives the same result.
func SanitizeDescription(raw string) string {
	s := unsafeChars.ReplaceAllString(raw, "_")
	s = underscores.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return UnknownDescription
	}
	return s
}

// ArtifactStem is the common name of every artifact derived from a series:
// {patient}_{series folder}_{sanitized description}.
func ArtifactStem(patientID, seriesID, description string) string {
	return fmt.Sprintf("%s_%s_%s", patientID, seriesID, SanitizeDescription(description))
}
