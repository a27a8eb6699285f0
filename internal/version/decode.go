// Package version resolves the runtime version of the interpreter frozen into
// a target. Resolution is a pure step that runs before any recovery work: a
// persisted answer short-circuits detection, detection falls back to the
// operator, and every answer is persisted keyed by target identity.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrVersionUnresolved means neither detection nor the operator produced
	// a version. It is fatal to the run.
	ErrVersionUnresolved = errors.New("runtime version unresolved")
	// ErrVersionAmbiguous means a version code fell outside the range the
	// decoder is known to handle.
	ErrVersionAmbiguous = errors.New("runtime version code ambiguous")
)

const (
	MinKnownCode = 20
	MaxKnownCode = 313
)

// Decode maps the extractor's integer version code to major.minor.
// Codes from 310 on carry the minor directly (312 -> 3.12); older codes keep
// it in the last digit (36 -> 3.6, 27 -> 3.7). The decoded value is always
// returned; codes outside [MinKnownCode, MaxKnownCode] also return
// ErrVersionAmbiguous so the caller can ask for confirmation.
func Decode(code int) (major, minor int, err error) {
	if code < 0 {
		return 0, 0, fmt.Errorf("%w: code %d", ErrVersionAmbiguous, code)
	}
	major = 3
	if code >= 310 {
		minor = code - 300
	} else {
		minor = code % 10
	}
	if code < MinKnownCode || code > MaxKnownCode {
		return major, minor, fmt.Errorf("%w: code %d", ErrVersionAmbiguous, code)
	}
	return major, minor, nil
}

var detectPattern = regexp.MustCompile(`(?i)python version:\s*(\d+)(?:\.(\d+))?`)

// detection is what the extractor's detect-only output told us.
type detection struct {
	code   int
	major  int
	minor  int
	dotted bool
}

// parseDetectOutput finds the first version line in extractor output.
func parseDetectOutput(out string) (detection, bool) {
	m := detectPattern.FindStringSubmatch(out)
	if m == nil {
		return detection{}, false
	}
	first, err := strconv.Atoi(m[1])
	if err != nil {
		return detection{}, false
	}
	if m[2] != "" {
		minor, err := strconv.Atoi(m[2])
		if err != nil {
			return detection{}, false
		}
		return detection{major: first, minor: minor, dotted: true}, true
	}
	return detection{code: first}, true
}

// ParseText extracts major.minor from free-form operator input such as
// "3.8", "3.11.4" or "python3.10". ok is false when nothing parses.
func ParseText(s string) (major, minor int, ok bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "python")
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return 0, 0, false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil || major <= 0 {
		return 0, 0, false
	}
	minor, err = strconv.Atoi(parts[1])
	if err != nil || minor < 0 {
		return 0, 0, false
	}
	return major, minor, true
}
