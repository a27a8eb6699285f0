// Package marshal recovers serialized code objects from compiled units whose
// headers are missing or damaged. Candidates are judged only by whether they
// parse under the marshal grammar; header magic is never consulted.
package marshal

import (
	"errors"
	"fmt"
	"os"

	"github.com/yourorg/unfreeze/internal/model"
)

// Window is how many leading bytes are tried as the start of the object.
// Whatever header survives packaging is shorter than this.
const Window = 32

// ErrNoValidRegion means no offset in the window starts a valid code object.
var ErrNoValidRegion = errors.New("no valid serialized region found")

// Extractor locates the serialized code object inside a unit's bytes.
type Extractor struct {
	layouts []layout
}

// NewExtractor picks the code object layout for v. When v does not parse as
// major.minor every layout is tried, newest first.
func NewExtractor(v model.RuntimeVersion) *Extractor {
	switch {
	case !v.Known():
		return &Extractor{layouts: []layout{layout311, layout38, layout30}}
	case v.AtLeast(3, 11):
		return &Extractor{layouts: []layout{layout311}}
	case v.AtLeast(3, 8):
		return &Extractor{layouts: []layout{layout38}}
	default:
		return &Extractor{layouts: []layout{layout30}}
	}
}

// ExtractRaw returns the first region inside the window that parses as a
// complete code object. The region never extends past data.
func (e *Extractor) ExtractRaw(data []byte) (model.Region, bool) {
	limit := Window
	if len(data) < limit {
		limit = len(data)
	}
	for off := 0; off < limit; off++ {
		for _, l := range e.layouts {
			n, err := parseCode(data[off:], l)
			if err == nil && n > 0 {
				return model.Region{Offset: off, Length: n}, true
			}
		}
	}
	return model.Region{}, false
}

// ExtractFile runs ExtractRaw over src and writes the region to dst.
func (e *Extractor) ExtractFile(src, dst string) (model.Region, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return model.Region{}, fmt.Errorf("read unit: %w", err)
	}
	region, ok := e.ExtractRaw(data)
	if !ok {
		return model.Region{}, ErrNoValidRegion
	}
	if err := os.WriteFile(dst, data[region.Offset:region.Offset+region.Length], 0o644); err != nil {
		return model.Region{}, fmt.Errorf("write region: %w", err)
	}
	return region, nil
}
