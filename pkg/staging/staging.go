// Package staging is the local durability layer between network receipt of a
// recording and its upload to the blob store. Recordings are flat files
// named after the client-supplied filename under a single root directory.
package staging

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	locksDirName = ".locks"
	maxNameLen   = 255

	fileMode = 0o644
	dirMode  = 0o755
)

var (
	ErrNotFound    = errors.New("staged recording not found")
	ErrInvalidName = errors.New("invalid recording name")
	ErrBusy        = errors.New("recording is being finalized")
)

type Store struct {
	root string

	mu     sync.Mutex
	leases map[string]*Lease
}

func NewStore(root string) (*Store, error) {
	root = filepath.Clean(root)
	if err := os.MkdirAll(filepath.Join(root, locksDirName), dirMode); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &Store{
		root:   root,
		leases: make(map[string]*Lease),
	}, nil
}

func (s *Store) Root() string {
	return s.root
}

// Path returns the on-disk location of a staged recording.
func (s *Store) Path(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return filepath.Join(s.root, name), nil
}

// Write replaces whatever is staged under name with data.
func (s *Store) Write(name string, data []byte) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, fileMode)
}

// Append adds data to the end of the staged file, creating it if needed.
func (s *Store) Append(name string, data []byte) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *Store) Stat(name string) (int64, error) {
	path, err := s.Path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, notFound(name, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return info.Size(), nil
}

func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, notFound(name, err)
	}
	return f, nil
}

func (s *Store) ReadFile(name string) ([]byte, error) {
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Delete removes a staged recording. Deleting something that is not staged
// returns ErrNotFound so callers can tell a double cleanup apart.
func (s *Store) Delete(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return notFound(name, err)
	}
	return nil
}

func notFound(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return err
}

// ValidateName accepts a single relative path component made of printable
// characters. Anything that could escape the staging root is rejected.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("empty name: %w", ErrInvalidName)
	}
	if len(name) > maxNameLen {
		return fmt.Errorf("name longer than %d bytes: %w", maxNameLen, ErrInvalidName)
	}
	if name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return fmt.Errorf("hidden or relative name %q: %w", name, ErrInvalidName)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("path separator in %q: %w", name, ErrInvalidName)
	}
	for i, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("control character at position %d: %w", i, ErrInvalidName)
		}
	}
	return nil
}
