package memory

import (
	"context"
	"errors"
	"testing"

	"solana-hype-trader/internal/storage"
)

func TestStateStore_SaveLoad(t *testing.T) {
	s := NewStateStore()
	ctx := context.Background()

	if _, err := s.Load(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	buf := []byte(`{"a":1}`)
	if err := s.Save(ctx, "k", buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	buf[0] = 'x'

	got, err := s.Load(ctx, "k")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Load = %q", got)
	}
}
