package persist

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	tempPattern = ".persist-*"
	filePerm    = 0o644
)

// SaveFile encodes state into path. The file is written to a temporary
// sibling first and renamed into place, so readers never observe a partial document.
func SaveFile(path string, codec Codec, state any) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}

	tmpName := tmp.Name()

	err = codec.Encode(tmp, state)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("encode state: %w", err)
	}

	err = tmp.Close()
	if err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("close state file: %w", err)
	}

	err = os.Chmod(tmpName, filePerm)
	if err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("chmod state file: %w", err)
	}

	err = os.Rename(tmpName, path)
	if err != nil {
		os.Remove(tmpName)

		return fmt.Errorf("rename state file: %w", err)
	}

	return nil
}

// LoadFile decodes the file at path into state, which must be a pointer.
func LoadFile(path string, codec Codec, state any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	err = codec.Decode(file, state)
	if err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	return nil
}

// Persister handles I/O for a specific state type at one path.
type Persister[T any] struct {
	path  string
	codec Codec
}

// NewPersister creates a persister whose codec is chosen from the path extension.
func NewPersister[T any](path string) (*Persister[T], error) {
	codec, err := CodecFor(path)
	if err != nil {
		return nil, err
	}

	return &Persister[T]{path: path, codec: codec}, nil
}

// NewPersisterWithCodec creates a persister with an explicit codec.
func NewPersisterWithCodec[T any](path string, codec Codec) *Persister[T] {
	return &Persister[T]{path: path, codec: codec}
}

// Path returns the file the persister reads and writes.
func (p *Persister[T]) Path() string {
	return p.path
}

// Save writes state atomically.
func (p *Persister[T]) Save(state *T) error {
	return SaveFile(p.path, p.codec, state)
}

// Load reads a fresh value from the file.
func (p *Persister[T]) Load() (*T, error) {
	var state T

	err := LoadFile(p.path, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}
