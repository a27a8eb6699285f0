package model

import "time"

// Category is the terminal outcome bucket a unit is counted under.
type Category string

const (
	CategorySucceededPrimary   Category = "succeeded_primary"
	CategorySucceededSecondary Category = "succeeded_secondary"
	CategoryDisassembledOnly   Category = "disassembled_only"
	CategoryRawExtracted       Category = "raw_extracted"
	CategoryFailed             Category = "failed"
)

// Categories lists every category in report order.
var Categories = []Category{
	CategorySucceededPrimary,
	CategorySucceededSecondary,
	CategoryDisassembledOnly,
	CategoryRawExtracted,
	CategoryFailed,
}

// Stage identifies a step of the recovery cascade.
type Stage string

const (
	StagePrimary     Stage = "primary"
	StageSecondary   Stage = "secondary"
	StageDisassemble Stage = "disassemble"
	StageRawExtract  Stage = "raw_extract"
)

// Reason codes recorded on attempts and outcomes.
const (
	ReasonOK                     = ""
	ReasonEngineInvocationFailed = "EngineInvocationFailed"
	ReasonEngineTimeout          = "EngineTimeout"
	ReasonEmptyOutput            = "EmptyOutput"
	ReasonEmptyUnit              = "EmptyUnit"
	ReasonNoValidRegionFound     = "NoValidRegionFound"
	ReasonCascadeExhausted       = "CascadeExhausted"
)

// Attempt is the record of one engine invocation. It is appended to a unit's
// log and never changed afterwards.
type Attempt struct {
	Tool        string        `json:"tool"`
	Stage       Stage         `json:"stage"`
	ExitCode    int           `json:"exit_code"`
	StdoutBytes int64         `json:"stdout_bytes"`
	StderrBytes int64         `json:"stderr_bytes"`
	Duration    time.Duration `json:"duration_ns"`
	Success     bool          `json:"success"`
	Reason      string        `json:"reason,omitempty"`
	Output      string        `json:"output,omitempty"`
	Diagnostic  string        `json:"diagnostic,omitempty"`
}

// Region locates a serialized object inside a unit's raw bytes.
type Region struct {
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// UnitOutcome is a unit that reached a terminal state.
type UnitOutcome struct {
	Unit      Unit      `json:"unit"`
	Category  Category  `json:"category"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  []Attempt `json:"attempts"`
	RawRegion *Region   `json:"raw_region,omitempty"`
}

type Totals struct {
	SucceededPrimary   int `json:"succeeded_primary"`
	SucceededSecondary int `json:"succeeded_secondary"`
	DisassembledOnly   int `json:"disassembled_only"`
	RawExtracted       int `json:"raw_extracted"`
	Failed             int `json:"failed"`
	Total              int `json:"total"`
}

// Add counts one unit under c.
func (t *Totals) Add(c Category) {
	switch c {
	case CategorySucceededPrimary:
		t.SucceededPrimary++
	case CategorySucceededSecondary:
		t.SucceededSecondary++
	case CategoryDisassembledOnly:
		t.DisassembledOnly++
	case CategoryRawExtracted:
		t.RawExtracted++
	default:
		t.Failed++
	}
	t.Total++
}

func (t Totals) Count(c Category) int {
	switch c {
	case CategorySucceededPrimary:
		return t.SucceededPrimary
	case CategorySucceededSecondary:
		return t.SucceededSecondary
	case CategoryDisassembledOnly:
		return t.DisassembledOnly
	case CategoryRawExtracted:
		return t.RawExtracted
	case CategoryFailed:
		return t.Failed
	}
	return 0
}

// Report is the finished record of one run.
type Report struct {
	RunID      string         `json:"run_id"`
	Target     Target         `json:"target"`
	Version    RuntimeVersion `json:"version"`
	Totals     Totals         `json:"totals"`
	Units      []UnitOutcome  `json:"units"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Cancelled  bool           `json:"cancelled,omitempty"`
}
