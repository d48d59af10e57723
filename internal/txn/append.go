package txn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// AppendLine appends line plus a newline to path, first adding a newline if
// the file does not already end with one. This keeps a truncated previous
// write from merging with the new record.
func AppendLine(path, line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("log line must not contain newlines")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	prefix := ""
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	if info.Size() > 0 {
		last := make([]byte, 1)
		if _, err := f.ReadAt(last, info.Size()-1); err != nil && err != io.EOF {
			return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
		}
		if last[0] != '\n' {
			prefix = "\n"
		}
	}

	if _, err := f.WriteString(prefix + line + "\n"); err != nil {
		return fmt.Errorf("failed to append to %s: %w", filepath.Base(path), err)
	}
	return f.Sync()
}
