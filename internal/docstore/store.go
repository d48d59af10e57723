package docstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/waypoint/internal/txn"
)

// Codec modes accepted by WithMode.
const (
	ModeAuto  = "auto"
	ModeYAML  = "yaml"
	ModePatch = "patch"
)

// ErrNotFound is returned when the document file does not exist.
var ErrNotFound = errors.New("state document not found")

// Store is the handle through which the state document is read and mutated.
type Store struct {
	path   string
	mode   string
	codec  Codec
	txOpts []txn.Option
}

// Option configures a Store.
type Option func(*Store)

// WithMode selects the codec: "yaml", "patch", or "auto" (the default).
// Auto uses YAML unless the existing document fails to parse as YAML.
func WithMode(mode string) Option {
	return func(s *Store) {
		s.mode = mode
	}
}

// WithCodec forces a specific codec, overriding the mode.
func WithCodec(c Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithTxOptions passes options to every atomic write the store performs.
func WithTxOptions(opts ...txn.Option) Option {
	return func(s *Store) {
		s.txOpts = append(s.txOpts, opts...)
	}
}

// New creates a store for the document at path and selects its codec.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{path: path, mode: ModeAuto}
	for _, opt := range opts {
		opt(s)
	}
	if s.codec != nil {
		return s, nil
	}

	switch s.mode {
	case ModeYAML:
		s.codec = YAMLCodec{}
	case ModePatch:
		s.codec = PatchCodec{}
	case ModeAuto, "":
		s.codec = YAMLCodec{}
		if data, err := os.ReadFile(path); err == nil {
			if _, perr := (YAMLCodec{}).Parse(data); perr != nil {
				s.codec = PatchCodec{}
			}
		}
	default:
		return nil, fmt.Errorf("unknown document codec %q", s.mode)
	}
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// CodecName reports which codec was selected.
func (s *Store) CodecName() string { return s.codec.Name() }

// Exists reports whether the document file is present.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Parse decodes raw bytes with the store's codec.
func (s *Store) Parse(data []byte) (Document, error) {
	return s.codec.Parse(data)
}

// Load reads and parses the document.
func (s *Store) Load() (Document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}
	doc, err := s.codec.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state document: %w", err)
	}
	return doc, nil
}

// Get reads a single key from the current document.
func (s *Store) Get(key string) (string, bool, error) {
	doc, err := s.Load()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.Get(key)
	return v, ok, nil
}

// Apply is the single mutation entry point: it loads the document, runs
// mutate, and atomically replaces the file with the result. If mutate
// returns an error nothing is written.
func (s *Store) Apply(mutate func(Document) error) (Document, error) {
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	if err := s.Write(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Write atomically replaces the document with doc.
func (s *Store) Write(doc Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize state document: %w", err)
	}
	if err := txn.WriteFile(s.path, data, s.txOpts...); err != nil {
		return fmt.Errorf("failed to write state document: %w", err)
	}
	return nil
}

// Stage adds doc to a caller-owned transaction instead of writing it.
func (s *Store) Stage(tx *txn.Tx, doc Document) error {
	data, err := doc.Bytes()
	if err != nil {
		return fmt.Errorf("failed to serialize state document: %w", err)
	}
	return tx.WriteFile(s.path, data)
}

// Create writes an initial document. It fails if one already exists.
func (s *Store) Create(data []byte) error {
	if s.Exists() {
		return fmt.Errorf("state document already exists: %s", s.path)
	}
	if _, err := s.codec.Parse(data); err != nil {
		return fmt.Errorf("invalid initial document: %w", err)
	}
	return txn.WriteFile(s.path, data, s.txOpts...)
}
