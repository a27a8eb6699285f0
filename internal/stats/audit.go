package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/yourorg/unfreeze/internal/model"
)

// AuditEntry is one line of the audit log.
type AuditEntry struct {
	TS    string `json:"ts"`
	RunID string `json:"run_id"`
	model.UnitOutcome
}

// AuditWriter appends one JSON line per committed unit outcome of one run.
type AuditWriter struct {
	w     io.Writer
	enc   *json.Encoder
	runID string
	now   func() time.Time
}

func NewAuditWriter(w io.Writer, runID string) *AuditWriter {
	return &AuditWriter{w: w, enc: json.NewEncoder(w), runID: runID, now: time.Now}
}

// CreateAuditLog starts a fresh log for runID at path, replacing any log a
// previous run left there.
func CreateAuditLog(path, runID string) (*AuditWriter, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return NewAuditWriter(f, runID), f, nil
}

func (w *AuditWriter) Write(o model.UnitOutcome) error {
	return w.enc.Encode(AuditEntry{TS: w.now().UTC().Format(time.RFC3339Nano), RunID: w.runID, UnitOutcome: o})
}

// ReadAudit loads every entry of an audit log in file order.
func ReadAudit(r io.Reader) ([]AuditEntry, error) {
	var entries []AuditEntry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("audit line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// Replay rebuilds category totals from audit entries. A non-empty runID
// restricts the tally to that run.
func Replay(entries []AuditEntry, runID string) model.Totals {
	var t model.Totals
	for _, e := range entries {
		if runID != "" && e.RunID != runID {
			continue
		}
		t.Add(e.Category)
	}
	return t
}
