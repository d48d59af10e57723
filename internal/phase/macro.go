package phase

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidMacro is returned when a value does not name a macro phase.
var ErrInvalidMacro = errors.New("invalid macro phase")

// Macro is one of the five coarse lifecycle stages, numbered 1 to 5.
type Macro int

const (
	Planning Macro = iota + 1
	Implementation
	Validation
	Delivery
	Maintenance
)

// FirstMacro and LastMacro bound the valid range.
const (
	FirstMacro = Planning
	LastMacro  = Maintenance
)

var macroLabels = map[Macro]string{
	Planning:       "planning",
	Implementation: "implementation",
	Validation:     "validation",
	Delivery:       "delivery",
	Maintenance:    "maintenance",
}

// ParseMacro accepts "3", "phase_3", "phase3" or a label such as
// "validation", case-insensitively.
func ParseMacro(s string) (Macro, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(strings.TrimPrefix(v, "phase"), "_")

	if n, err := strconv.Atoi(v); err == nil {
		m := Macro(n)
		if m.Valid() {
			return m, nil
		}
		return 0, fmt.Errorf("%w: %q is outside 1-5", ErrInvalidMacro, s)
	}
	for m, label := range macroLabels {
		if label == v {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidMacro, s)
}

// Valid reports whether m is in 1-5.
func (m Macro) Valid() bool {
	return m >= FirstMacro && m <= LastMacro
}

// Label is the display name, e.g. "implementation".
func (m Macro) Label() string {
	if l, ok := macroLabels[m]; ok {
		return l
	}
	return "unknown"
}

func (m Macro) String() string {
	return strconv.Itoa(int(m))
}

// Next returns the following macro phase; the last one has no successor.
func (m Macro) Next() (Macro, bool) {
	if m >= LastMacro {
		return m, false
	}
	return m + 1, true
}

// ProgressKey is the state document key for this phase's progress estimate.
func (m Macro) ProgressKey() string {
	return "progress.phase_" + m.String()
}
