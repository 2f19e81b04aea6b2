package models

// OutcomeKind names the variant of a ConversionOutcome
type OutcomeKind int

const (
	KindSinglePassthrough OutcomeKind = iota
	KindVolume
	KindUnconvertible
)

func (k OutcomeKind) String() string {
	switch k {
	case KindSinglePassthrough:
		return "passthrough"
	case KindVolume:
		return "volume"
	case KindUnconvertible:
		return "unconvertible"
	default:
		return "unknown"
	}
}

// ConversionOutcome is the result of processing exactly one series. It is
// one of SinglePassthrough, Volume or Unconvertible; callers switch on the
// concrete type.
type ConversionOutcome interface {
	Kind() OutcomeKind
	ArtifactPath() string
}

// SinglePassthrough is a one-file series copied without conversion
type SinglePassthrough struct {
	Path string
}

func (SinglePassthrough) Kind() OutcomeKind     { return KindSinglePassthrough }
func (o SinglePassthrough) ArtifactPath() string { return o.Path }

// Volume is a compressed NIfTI volume ready for defacing
type Volume struct {
	Path string

	// Rescued is true when the volume was built from the longest
	// consistent slice run instead of the whole series
	Rescued bool

	// SliceCount is the number of slices that went into the volume
	SliceCount int
}

func (Volume) Kind() OutcomeKind     { return KindVolume }
func (o Volume) ArtifactPath() string { return o.Path }

// Unconvertible is a series copied verbatim as a folder
type Unconvertible struct {
	Path string
}

func (Unconvertible) Kind() OutcomeKind     { return KindUnconvertible }
func (o Unconvertible) ArtifactPath() string { return o.Path }
