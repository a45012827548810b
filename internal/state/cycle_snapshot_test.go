package state

import (
	"context"
	"sync"
	"testing"
)

type memoryStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]string)}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *memoryStore) Set(ctx context.Context, key, value string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memoryStore) Close() error { return nil }

func TestCycleSnapshotRoundTrip(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	if _, ok, err := LoadCycleSnapshot(ctx, store, "DOGE/BUSD"); err != nil || ok {
		t.Fatalf("expected no snapshot, got ok=%v err=%v", ok, err)
	}

	snap := CycleSnapshot{
		Market:      "DOGE/BUSD",
		Bid:         0.10,
		Ask:         0.12,
		BuyAccepted: true,
		BuyReason:   "no resting buy",
		UpdatedAtMS: 1234,
	}
	if err := SaveCycleSnapshot(ctx, store, snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded, ok, err := LoadCycleSnapshot(ctx, store, "DOGE/BUSD")
	if err != nil || !ok {
		t.Fatalf("expected snapshot, got ok=%v err=%v", ok, err)
	}
	if loaded != snap {
		t.Fatalf("expected %+v, got %+v", snap, loaded)
	}
	// snapshots are per market
	if _, ok, _ := LoadCycleSnapshot(ctx, store, "ADA/BUSD"); ok {
		t.Fatalf("expected no snapshot for other market")
	}
}

func TestCycleSnapshotNilStore(t *testing.T) {
	ctx := context.Background()
	if err := SaveCycleSnapshot(ctx, nil, CycleSnapshot{Market: "X/Y"}); err != nil {
		t.Fatalf("nil store must be a no-op, got %v", err)
	}
	if _, ok, err := LoadCycleSnapshot(ctx, nil, "X/Y"); err != nil || ok {
		t.Fatalf("nil store must load nothing")
	}
}
