package service

import (
	"context"
	"errors"
	"os"
	"recording-ingest/pkg/staging"
	"testing"
)

func newTestBuffer(t *testing.T) (*ChunkBuffer, *staging.Store) {
	t.Helper()
	store, err := staging.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewChunkBuffer(store), store
}

func TestChunkBufferFirstFragmentTruncates(t *testing.T) {
	buf, store := newTestBuffer(t)
	if err := store.Write("rec.webm", []byte("stale bytes from an older run")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	ctx := context.Background()
	for _, part := range []string{"new-", "take"} {
		if err := buf.Append(ctx, "rec.webm", []byte(part), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	data, err := store.ReadFile("rec.webm")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "new-take" {
		t.Fatalf("staged %q, want new-take", data)
	}
}

func TestChunkBufferRejectsBadInput(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	if err := buf.Append(ctx, "rec.webm", nil, nil); !errors.Is(err, ErrEmptyFragment) {
		t.Fatalf("empty fragment: err = %v", err)
	}
	if err := buf.Append(ctx, "../rec.webm", []byte("x"), nil); !errors.Is(err, staging.ErrInvalidName) {
		t.Fatalf("bad name: err = %v", err)
	}
}

func TestChunkBufferStatsAndTake(t *testing.T) {
	buf, _ := newTestBuffer(t)
	ctx := context.Background()

	_ = buf.Append(ctx, "rec.webm", []byte("abc"), nil)
	_ = buf.Append(ctx, "rec.webm", []byte("de"), nil)

	count, size := buf.Stats("rec.webm")
	if count != 2 || size != 5 {
		t.Fatalf("Stats = (%d, %d), want (2, 5)", count, size)
	}

	taken, err := buf.Take("rec.webm")
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if taken != 2 {
		t.Fatalf("Take = %d, want 2", taken)
	}
	if count, _ := buf.Stats("rec.webm"); count != 0 {
		t.Fatalf("Stats after Take = %d, want 0", count)
	}
	if taken, _ := buf.Take("unknown.webm"); taken != 0 {
		t.Fatalf("Take(unknown) = %d", taken)
	}
}

func TestChunkBufferKeepsFragmentsThatFailedToStage(t *testing.T) {
	buf, store := newTestBuffer(t)
	ctx := context.Background()

	if err := os.RemoveAll(store.Root()); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	if err := buf.Append(ctx, "rec.webm", []byte("lost"), nil); err == nil {
		t.Fatal("Append succeeded without a staging directory")
	}
	if dropped := buf.Discard(); dropped != 1 {
		t.Fatalf("Discard = %d, want 1", dropped)
	}
}

func TestChunkBufferRetriesPendingOnNextFlush(t *testing.T) {
	buf, store := newTestBuffer(t)
	ctx := context.Background()

	if err := os.RemoveAll(store.Root()); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
	_ = buf.Append(ctx, "rec.webm", []byte("one-"), nil)

	if err := os.MkdirAll(store.Root(), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := buf.Append(ctx, "rec.webm", []byte("two"), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	data, err := store.ReadFile("rec.webm")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "one-two" {
		t.Fatalf("staged %q, want one-two", data)
	}
}
