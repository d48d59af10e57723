package checkpoint

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/fyrsmithlabs/waypoint/internal/phase"
)

var idPattern = regexp.MustCompile(`^CP_([1-5])_([0-9]{3,})$`)

// FormatID builds "CP_<phase>_<seq>" with seq zero padded to three digits.
func FormatID(p phase.Macro, seq int) string {
	return fmt.Sprintf("CP_%d_%03d", int(p), seq)
}

// ParseID splits a checkpoint id into its macro phase and sequence.
func ParseID(id string) (phase.Macro, int, error) {
	if id == "" {
		return 0, 0, ErrEmptyID
	}
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	p, _ := strconv.Atoi(m[1])
	seq, _ := strconv.Atoi(m[2])
	return phase.Macro(p), seq, nil
}
