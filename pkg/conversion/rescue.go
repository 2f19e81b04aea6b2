package conversion

import (
	"fmt"

	"dcmreface/internal/models"
	"dcmreface/pkg/geometry"
)

// RescueResult is the volume built from the longest consistent run
type RescueResult struct {
	Path string
	Run  geometry.Run
}

// Rescue reads the metadata of every slice, finds the longest run with
// uniform spacing and builds a volume from it at dest. Unreadable files are
// left out of the analysis.
func (c *Converter) Rescue(series models.Series, dest string) (RescueResult, error) {
	slices := make([]models.Slice, 0, len(series.Files))
	skipped := 0
	for _, path := range series.Files {
		meta, err := c.reader.Read(path)
		if err != nil {
			skipped++
			continue
		}
		slices = append(slices, meta.Slice(path))
	}
	if skipped > 0 {
		c.logger.Debug("skipped unreadable slices", "series", series.FolderID, "count", skipped)
	}

	run, err := geometry.LongestConsistentRun(slices, c.geometry)
	if err != nil {
		return RescueResult{}, err
	}
	c.logger.Info("longest consistent run found",
		"series", series.FolderID,
		"slices", run.Len(),
		"of", len(series.Files),
		"spacing_mean", run.MeanSpacing,
		"spacing_std", run.SpacingStdDev,
	)

	if err := c.builder.BuildSlices(run.Paths(), dest); err != nil {
		return RescueResult{}, fmt.Errorf("building rescued run: %w", err)
	}
	return RescueResult{Path: dest, Run: run}, nil
}
