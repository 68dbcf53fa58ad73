package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"github.com/gofrs/flock"
	"path/filepath"
	"sync"
)

// Lease grants exclusive finalize rights over one staged recording. It is held
// in-process and mirrored by an advisory file lock so a second process
// sharing the staging directory is kept out too.
type Lease struct {
	store *Store
	name  string
	lock  *flock.Flock
	once  sync.Once
}

// Acquire takes the lease for name or fails with ErrBusy.
func (s *Store) Acquire(name string) (*Lease, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.leases[name]; held {
		return nil, fmt.Errorf("%s: %w", name, ErrBusy)
	}

	lock := flock.New(filepath.Join(s.root, locksDirName, lockFileName(name)))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", name, err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", name, ErrBusy)
	}

	lease := &Lease{store: s, name: name, lock: lock}
	s.leases[name] = lease
	return lease, nil
}

// lockFileName has a fixed length so a name at the length limit still fits.
func lockFileName(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:]) + ".lock"
}

// Leased reports whether a finalize is in progress for name in this process.
func (s *Store) Leased(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, held := s.leases[name]
	return held
}

func (l *Lease) Name() string {
	return l.name
}

// Release is safe to call more than once.
func (l *Lease) Release() error {
	var err error
	l.once.Do(func() {
		l.store.mu.Lock()
		if l.store.leases[l.name] == l {
			delete(l.store.leases, l.name)
		}
		l.store.mu.Unlock()
		err = l.lock.Unlock()
	})
	return err
}

// Release drops the lease on name held by this process, if any. The
// enrichment tail uses it because it may run on a queue worker that never saw
// the *Lease value.
func (s *Store) Release(name string) error {
	s.mu.Lock()
	lease, held := s.leases[name]
	s.mu.Unlock()
	if !held {
		return nil
	}
	return lease.Release()
}
