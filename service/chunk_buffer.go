package service

import (
	"context"
	"fmt"
	"github.com/rs/zerolog"
	"recording-ingest/pkg/staging"
	"sync"
)

// chunkSequence is the arrival-ordered run of fragments for one filename.
// Fragments are dropped from memory once they are on disk; a fragment whose
// write failed stays pending and goes out with the next flush.
type chunkSequence struct {
	pending [][]byte
	started bool
	count   int
	size    int64
	lastSeq *uint64
}

// ChunkBuffer belongs to exactly one session. It is never shared between
// connections.
type ChunkBuffer struct {
	store *staging.Store

	mu         sync.Mutex
	recordings map[string]*chunkSequence
}

func NewChunkBuffer(store *staging.Store) *ChunkBuffer {
	return &ChunkBuffer{
		store:      store,
		recordings: make(map[string]*chunkSequence),
	}
}

// Append records fragment for filename and writes every pending fragment to
// the staging area. The first fragment of a recording truncates whatever was
// staged under the same name before.
func (b *ChunkBuffer) Append(ctx context.Context, filename string, fragment []byte, seq *uint64) error {
	if err := staging.ValidateName(filename); err != nil {
		return err
	}
	if len(fragment) == 0 {
		return ErrEmptyFragment
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Checked under mu so that a finalize cannot take the sequence between
	// this check and the write below.
	if b.store.Leased(filename) {
		return fmt.Errorf("%s: %w", filename, staging.ErrBusy)
	}

	rec, ok := b.recordings[filename]
	if !ok {
		rec = &chunkSequence{}
		b.recordings[filename] = rec
	}

	if seq != nil {
		if rec.lastSeq != nil && *seq <= *rec.lastSeq {
			return fmt.Errorf("%s seq %d after %d: %w", filename, *seq, *rec.lastSeq, ErrDuplicateFragment)
		}
		if rec.lastSeq != nil && *seq > *rec.lastSeq+1 {
			zerolog.Ctx(ctx).Warn().
				Str("filename", filename).
				Uint64("expected_seq", *rec.lastSeq+1).
				Uint64("seq", *seq).
				Msg("gap in fragment sequence")
		}
		next := *seq
		rec.lastSeq = &next
	}

	rec.pending = append(rec.pending, fragment)
	rec.count++
	rec.size += int64(len(fragment))

	return b.flushLocked(filename, rec)
}

func (b *ChunkBuffer) flushLocked(filename string, rec *chunkSequence) error {
	for len(rec.pending) > 0 {
		var err error
		if rec.started {
			err = b.store.Append(filename, rec.pending[0])
		} else {
			err = b.store.Write(filename, rec.pending[0])
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", filename, err)
		}
		rec.started = true
		rec.pending[0] = nil
		rec.pending = rec.pending[1:]
	}
	return nil
}

// Take flushes what is still pending for filename and forgets it, so the
// next fragment under that name starts a new recording. It reports how many
// fragments this buffer saw. When the flush fails the sequence is kept so a
// later Take can retry it.
func (b *ChunkBuffer) Take(filename string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec, ok := b.recordings[filename]
	if !ok {
		return 0, nil
	}
	if err := b.flushLocked(filename, rec); err != nil {
		return rec.count, err
	}
	delete(b.recordings, filename)
	return rec.count, nil
}

// Stats returns the fragment count and byte total received for filename.
func (b *ChunkBuffer) Stats(filename string) (int, int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recordings[filename]
	if !ok {
		return 0, 0
	}
	return rec.count, rec.size
}

// Discard drops everything, including fragments that never reached disk.
func (b *ChunkBuffer) Discard() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	dropped := 0
	for _, rec := range b.recordings {
		dropped += len(rec.pending)
	}
	b.recordings = make(map[string]*chunkSequence)
	return dropped
}
