package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"dcmreface/internal/models"
)

var manifestHeader = []string{"subfolder_number", "series_description"}

// ManifestPath returns {originalDir}/{patientID}_modality.csv.
func ManifestPath(originalDir, patientID string) string {
	return filepath.Join(originalDir, patientID+"_modality.csv")
}

// WriteManifest writes one row per series, in discovery order.
func WriteManifest(path string, records []models.ModalityRecord) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(manifestHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := w.Write([]string{r.SubfolderNumber, r.SeriesDescription}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}
