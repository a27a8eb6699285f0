package model

import "fmt"

// Target is the frozen binary under analysis. It is created once at run start
// and never modified afterwards.
type Target struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Identity string `json:"identity"`
	Format   string `json:"format"`
	Size     int64  `json:"size"`
}

type Provenance string

const (
	ProvenanceDetected  Provenance = "detected"
	ProvenanceManual    Provenance = "manual"
	ProvenancePersisted Provenance = "persisted"
)

// RuntimeVersion is the resolved runtime version of the frozen interpreter.
// Text is what downstream tools receive; Major and Minor are zero when the
// operator supplied a free-form string that does not parse as major.minor.
type RuntimeVersion struct {
	Major      int        `json:"major"`
	Minor      int        `json:"minor"`
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
}

func NewRuntimeVersion(major, minor int, p Provenance) RuntimeVersion {
	return RuntimeVersion{
		Major:      major,
		Minor:      minor,
		Text:       fmt.Sprintf("%d.%d", major, minor),
		Provenance: p,
	}
}

func (v RuntimeVersion) String() string { return v.Text }

// Known reports whether Major/Minor carry a parsed version.
func (v RuntimeVersion) Known() bool { return v.Major > 0 }

// AtLeast compares against major.minor. Unknown versions compare false.
func (v RuntimeVersion) AtLeast(major, minor int) bool {
	if !v.Known() {
		return false
	}
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}
