package snapshot

import (
	"context"
	"encoding/json"
	"testing"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	r, err := s.Put(ctx, "act-1", json.RawMessage(`{"status":"entered"}`), nil)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if r.Version != 1 {
		t.Fatalf("expected version 1, got %d", r.Version)
	}

	got, err := s.Get(ctx, "act-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.State) != `{"status":"entered"}` {
		t.Fatalf("unexpected state: %s", got.State)
	}
}

func TestMemoryStore_GetMissing(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_OptimisticConcurrency(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Put(ctx, "act-1", json.RawMessage(`{"v":1}`), nil)
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}

	if _, err := s.Put(ctx, "act-1", json.RawMessage(`{"v":2}`), &PutOptions{ExpectedVersion: 99}); err != ErrVersionConflict {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	second, err := s.Put(ctx, "act-1", json.RawMessage(`{"v":2}`), &PutOptions{ExpectedVersion: first.Version})
	if err != nil {
		t.Fatalf("conditional Put with correct version failed: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version %d, got %d", first.Version+1, second.Version)
	}
}

func TestMemoryStore_DeleteAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Put(ctx, "act-a", json.RawMessage(`{}`), nil)
	s.Put(ctx, "act-b", json.RawMessage(`{}`), nil)

	records, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if err := s.Delete(ctx, "act-a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "act-a"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// Deleting an absent key is not an error.
	if err := s.Delete(ctx, "act-does-not-exist"); err != nil {
		t.Fatalf("Delete of missing key should not error: %v", err)
	}
}

func TestMemoryStore_ListPrefixAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Put(ctx, "order-1", json.RawMessage(`{}`), nil)
	s.Put(ctx, "order-2", json.RawMessage(`{}`), nil)
	s.Put(ctx, "shipment-1", json.RawMessage(`{}`), nil)

	records, err := s.List(ctx, &ListOptions{Prefix: "order-"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records with prefix, got %d", len(records))
	}

	limited, err := s.List(ctx, &ListOptions{Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected limit to cap at 1 record, got %d", len(limited))
	}
}
