// Package docstore reads and mutates the hierarchical state document.
//
// Keys are dotted paths ("workflow.current_phase"). Two codecs satisfy the
// same Document contract: a structured YAML codec that edits the node tree
// and preserves key order and comments, and a line-oriented patch codec that
// rewrites "key: value" lines in place for documents the structured parser
// rejects. The codec is chosen once, when the Store is constructed.
//
// Every mutation goes through Store.Apply, which reads the document, runs
// the caller's function, and atomically replaces the file.
package docstore

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidKey is returned for empty keys or keys with empty segments.
	ErrInvalidKey = errors.New("invalid document key")

	// ErrNotMapping is returned when a key descends through a scalar.
	ErrNotMapping = errors.New("key path crosses a non-mapping value")
)

// Document is a parsed state document. Values are scalars rendered as
// strings; nested mappings are addressed by dotted keys.
type Document interface {
	// Get returns the scalar at key.
	Get(key string) (string, bool)
	// Set assigns a scalar, creating intermediate mappings as needed.
	Set(key, value string) error
	// Flatten returns every scalar leaf keyed by its dotted path.
	Flatten() map[string]string
	// Bytes serializes the document.
	Bytes() ([]byte, error)
}

// Codec parses raw bytes into a Document.
type Codec interface {
	Name() string
	Parse(data []byte) (Document, error)
}

func splitKey(key string) ([]string, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalidKey
		}
	}
	return parts, nil
}
