package conversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDescription(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"T1 MPRAGE", "T1_MPRAGE"},
		{"  ax  t2/flair (fs) ", "ax_t2_flair_fs"},
		{"__DWI__b1000__", "DWI_b1000"},
		{"Localizer", "Localizer"},
		{"", UnknownDescription},
		{"***", UnknownDescription},
		{"Fläche 3D", "Fl_che_3D"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := SanitizeDescription(tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, SanitizeDescription(got), "sanitizing twice must not change the result")
		})
	}
}

func TestArtifactStem(t *testing.T) {
	assert.Equal(t, "P001_3_T1_MPRAGE", ArtifactStem("P001", "3", "T1 MPRAGE"))
	assert.Equal(t, "P001_7_UnknownDescription", ArtifactStem("P001", "7", ""))
}

func TestInferImageType(t *testing.T) {
	tests := []struct {
		name   string
		want   string
		wantOK bool
	}{
		{"P1_3_T1_FLAIR.nii.gz", "FLAIR", true},
		{"P1_4_t1_mprage.nii.gz", "T1", true},
		{"P1_5_Ax_T2.nii.gz", "T2", true},
		{"P1_6_PD_TSE.nii.gz", "PD", true},
		{"P1_7_FDG_PET.nii.gz", "FDG", true},
		{"P1_8_Head_CT.nii.gz", "CT", true},
		{"P1_9_DWI.nii.gz", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := InferImageType(tt.name)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
