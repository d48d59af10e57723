package checkpoint

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/phase"
	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

const (
	logSeparator = " | "
	timeLayout   = time.RFC3339
	restoredTag  = "RESTORED"
)

// LogEntry is one line of the checkpoint log. Checkpoint entries carry a
// Phase and Seq; event entries such as RESTORED:<id> carry an Event tag.
type LogEntry struct {
	Time    string      `json:"time"`
	ID      string      `json:"id"`
	Message string      `json:"message"`
	Phase   phase.Macro `json:"phase,omitempty"`
	Seq     int         `json:"seq,omitempty"`
	Event   string      `json:"event,omitempty"`
	Current bool        `json:"current,omitempty"`
	Exists  bool        `json:"exists"`
}

// IsCheckpoint reports whether the entry records a created checkpoint.
func (e LogEntry) IsCheckpoint() bool {
	return e.Event == "" && e.Phase.Valid()
}

// Ledger is the append-only checkpoint log.
type Ledger struct {
	path string
}

// NewLedger returns the ledger at path.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Entries parses the log. A missing log is empty. Lines that do not have
// three fields are skipped and counted.
func (l *Ledger) Entries() (entries []LogEntry, skipped int, err error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open checkpoint log: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		e, ok := parseEntry(line)
		if !ok {
			skipped++
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read checkpoint log: %w", err)
	}
	return entries, skipped, nil
}

func parseEntry(line string) (LogEntry, bool) {
	parts := strings.SplitN(line, logSeparator, 3)
	if len(parts) < 2 {
		return LogEntry{}, false
	}
	e := LogEntry{Time: strings.TrimSpace(parts[0]), ID: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		e.Message = strings.TrimSpace(parts[2])
	}
	if tag, _, ok := strings.Cut(e.ID, ":"); ok {
		e.Event = tag
		return e, true
	}
	p, seq, err := ParseID(e.ID)
	if err != nil {
		return LogEntry{}, false
	}
	e.Phase, e.Seq = p, seq
	return e, true
}

// CountPhase returns the number of checkpoint entries for p.
func (l *Ledger) CountPhase(p phase.Macro) (int, error) {
	entries, _, err := l.Entries()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.IsCheckpoint() && e.Phase == p {
			n++
		}
	}
	return n, nil
}

// Find returns the most recent checkpoint entry with id.
func (l *Ledger) Find(id string) (LogEntry, bool, error) {
	entries, _, err := l.Entries()
	if err != nil {
		return LogEntry{}, false, err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].ID == id && entries[i].Event == "" {
			return entries[i], true, nil
		}
	}
	return LogEntry{}, false, nil
}

// Append writes a record stamped with now. If the last record is later than
// now, its timestamp is reused so the log stays monotonic.
func (l *Ledger) Append(now time.Time, id, message string) (string, error) {
	stamp := now.UTC()
	if last, ok := l.lastTime(); ok && last.After(stamp) {
		stamp = last
	}
	ts := stamp.Format(timeLayout)
	line := ts + logSeparator + id + logSeparator + flatten(message)
	if err := txn.AppendLine(l.path, line); err != nil {
		return "", fmt.Errorf("failed to append to checkpoint log: %w", err)
	}
	return ts, nil
}

func (l *Ledger) lastTime() (time.Time, bool) {
	entries, _, err := l.Entries()
	if err != nil || len(entries) == 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(timeLayout, entries[len(entries)-1].Time)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
