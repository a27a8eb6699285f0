package model

// UnitState is the position of a unit in the recovery cascade.
type UnitState string

const (
	StatePending          UnitState = "pending"
	StateTryPrimary       UnitState = "try_primary"
	StateTrySecondary     UnitState = "try_secondary"
	StateTryDisassemble   UnitState = "try_disassemble"
	StateTryRawExtract    UnitState = "try_raw_extract"
	StateSucceeded        UnitState = "succeeded"
	StateDisassembledOnly UnitState = "disassembled_only"
	StateRawExtracted     UnitState = "raw_extracted"
	StateFailed           UnitState = "failed"
)

// Terminal reports whether no transition leaves s.
func (s UnitState) Terminal() bool {
	switch s {
	case StateSucceeded, StateDisassembledOnly, StateRawExtracted, StateFailed:
		return true
	}
	return false
}

// Unit is one extracted compiled-code artifact to recover.
type Unit struct {
	Seq        int       `json:"seq"`
	Path       string    `json:"path"`
	RelPath    string    `json:"rel_path"`
	Size       int64     `json:"size"`
	EntryPoint bool      `json:"entry_point"`
	State      UnitState `json:"-"`
}
