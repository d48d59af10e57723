package docstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// PatchCodec edits "key: value" lines in place, using indentation to derive
// nesting. It understands the subset of YAML the state document uses (block
// mappings of scalars) and leaves every other line untouched.
type PatchCodec struct{}

func (PatchCodec) Name() string { return "patch" }

func (PatchCodec) Parse(data []byte) (Document, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" {
		lines = strings.Split(text, "\n")
	}
	return &patchDocument{lines: lines}, nil
}

var (
	entryLine = regexp.MustCompile(`^(\s*)([A-Za-z0-9_][A-Za-z0-9_.\-]*):(?:[ \t]+(.*?))?[ \t]*$`)
	plainSafe = regexp.MustCompile(`^[A-Za-z0-9_./+\-][A-Za-z0-9_./:+\- ]*$`)
)

type patchEntry struct {
	line   int
	indent int
	header bool
	value  string
}

type patchDocument struct {
	lines []string
}

// index maps dotted paths to their lines.
func (d *patchDocument) index() map[string]patchEntry {
	type frame struct {
		indent int
		key    string
	}
	var stack []frame
	out := make(map[string]patchEntry)

	for i, line := range d.lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "---") {
			continue
		}
		m := entryLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent := len(m[1])
		for len(stack) > 0 && stack[len(stack)-1].indent >= indent {
			stack = stack[:len(stack)-1]
		}

		keys := make([]string, 0, len(stack)+1)
		for _, f := range stack {
			keys = append(keys, f.key)
		}
		keys = append(keys, m[2])
		path := strings.Join(keys, ".")

		value := stripComment(m[3])
		entry := patchEntry{line: i, indent: indent, header: value == "", value: value}
		if _, dup := out[path]; !dup {
			out[path] = entry
		}
		if entry.header {
			stack = append(stack, frame{indent: indent, key: m[2]})
		}
	}
	return out
}

func (d *patchDocument) Get(key string) (string, bool) {
	if _, err := splitKey(key); err != nil {
		return "", false
	}
	e, ok := d.index()[key]
	if !ok {
		return "", false
	}
	if e.header {
		// An empty value is either null or a section; sections have children.
		if d.hasChildren(e) {
			return "", false
		}
		return "", true
	}
	return unquote(e.value), true
}

func (d *patchDocument) hasChildren(e patchEntry) bool {
	for i := e.line + 1; i < len(d.lines); i++ {
		trimmed := strings.TrimSpace(d.lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return leadingSpaces(d.lines[i]) > e.indent
	}
	return false
}

func (d *patchDocument) Set(key, value string) error {
	parts, err := splitKey(key)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	idx := d.index()

	if e, ok := idx[key]; ok {
		if e.header && d.hasChildren(e) {
			return fmt.Errorf("%w: %q holds a mapping", ErrNotMapping, key)
		}
		d.lines[e.line] = strings.Repeat(" ", e.indent) + parts[len(parts)-1] + ": " + formatScalar(value)
		return nil
	}

	// Find the deepest existing ancestor section.
	depth := 0
	var parent *patchEntry
	for i := len(parts) - 1; i > 0; i-- {
		prefix := strings.Join(parts[:i], ".")
		if e, ok := idx[prefix]; ok {
			if !e.header {
				return fmt.Errorf("%w: %q", ErrNotMapping, key)
			}
			found := e
			parent = &found
			depth = i
			break
		}
	}

	insertAt := len(d.lines)
	indent := 0
	step := 2
	if parent != nil {
		insertAt = d.sectionEnd(*parent)
		indent = d.childIndent(*parent)
		step = indent - parent.indent
	}

	var block []string
	for i := depth; i < len(parts); i++ {
		pad := strings.Repeat(" ", indent+(i-depth)*step)
		if i == len(parts)-1 {
			block = append(block, pad+parts[i]+": "+formatScalar(value))
		} else {
			block = append(block, pad+parts[i]+":")
		}
	}

	lines := make([]string, 0, len(d.lines)+len(block))
	lines = append(lines, d.lines[:insertAt]...)
	lines = append(lines, block...)
	lines = append(lines, d.lines[insertAt:]...)
	d.lines = lines
	return nil
}

// sectionEnd returns the index after the last line nested under e.
func (d *patchDocument) sectionEnd(e patchEntry) int {
	end := e.line + 1
	for i := e.line + 1; i < len(d.lines); i++ {
		trimmed := strings.TrimSpace(d.lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if leadingSpaces(d.lines[i]) <= e.indent {
			break
		}
		end = i + 1
	}
	return end
}

func (d *patchDocument) childIndent(e patchEntry) int {
	for i := e.line + 1; i < len(d.lines); i++ {
		trimmed := strings.TrimSpace(d.lines[i])
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if n := leadingSpaces(d.lines[i]); n > e.indent {
			return n
		}
		break
	}
	return e.indent + 2
}

func (d *patchDocument) Flatten() map[string]string {
	out := make(map[string]string)
	for path, e := range d.index() {
		if e.header {
			if !d.hasChildren(e) {
				out[path] = ""
			}
			continue
		}
		out[path] = unquote(e.value)
	}
	return out
}

func (d *patchDocument) Bytes() ([]byte, error) {
	if len(d.lines) == 0 {
		return []byte{}, nil
	}
	return []byte(strings.Join(d.lines, "\n") + "\n"), nil
}

func leadingSpaces(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t"))
}

// stripComment drops a trailing " # comment" from an unquoted value.
func stripComment(v string) string {
	if strings.HasPrefix(v, "#") {
		return ""
	}
	if v == "" || v[0] == '"' || v[0] == '\'' {
		return v
	}
	if i := strings.Index(v, " #"); i >= 0 {
		return strings.TrimSpace(v[:i])
	}
	return v
}

func unquote(v string) string {
	switch {
	case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
		if s, err := strconv.Unquote(v); err == nil {
			return s
		}
		return v[1 : len(v)-1]
	case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
		return strings.ReplaceAll(v[1:len(v)-1], "''", "'")
	case v == "~" || v == "null":
		return ""
	}
	return v
}

// formatScalar renders value so that both codecs read it back unchanged.
func formatScalar(v string) string {
	if v != "" && plainSafe.MatchString(v) && !strings.HasSuffix(v, " ") &&
		!strings.HasSuffix(v, ":") && !strings.HasPrefix(v, "- ") &&
		!strings.Contains(v, ": ") && v != "null" && v != "~" {
		return v
	}
	return strconv.Quote(v)
}
