package conversion

import (
	"errors"
	"log/slog"
	"strings"

	"dcmreface/pkg/dicommeta"
)

// imageTypes is checked in order; the first substring match wins, so
// "T1_FLAIR" is FLAIR.
var imageTypes = []string{"FLAIR", "T1", "T2", "PD", "FDG", "CT"}

// InferImageType guesses the contrast hint passed to the defacer from an
// artifact name. The boolean is false when nothing matches.
func InferImageType(name string) (string, bool) {
	upper := strings.ToUpper(name)
	for _, t := range imageTypes {
		if strings.Contains(upper, t) {
			return t, true
		}
	}
	return "", false
}

// Describe returns the raw SeriesDescription of the first slice file of a
// series, or a placeholder when the tag is absent or the file unreadable.
func Describe(reader MetadataReader, firstFile string, logger *slog.Logger) string {
	meta, err := reader.Read(firstFile)
	if err != nil {
		if !errors.Is(err, dicommeta.ErrUnreadableFile) {
			logger.Warn("unexpected metadata error", "file", firstFile, "error", err)
		}
		return ReadErrorDescription
	}
	// a present but empty description stays empty; naming maps it later
	if !meta.HasDescription {
		return UnknownDescription
	}
	return meta.SeriesDescription
}
