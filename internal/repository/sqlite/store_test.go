package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/storetest"
)

func openTemp(t *testing.T, events feed.Publisher) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "producao.db"), events, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T, events feed.Publisher) repository.Store {
		return openTemp(t, events)
	})
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "producao.db")

	first, err := Open(ctx, path, nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.CreditFinishedGoods(ctx, "padaria-1", "broa", 12); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := first.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(ctx, path, nil, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close(ctx)

	n, err := second.FinishedGoods(ctx, "padaria-1", "broa")
	if err != nil || n != 12 {
		t.Fatalf("expected 12 units after reopening, got %d err=%v", n, err)
	}
}
