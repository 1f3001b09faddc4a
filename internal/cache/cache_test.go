package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	tmp := t.TempDir()
	store, err := Open(filepath.Join(tmp, "cache.db"), filepath.Join(tmp, "cache.lock"))
	if err != nil {
		t.Fatalf("Open cache failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCacheSetGetFreshAndStale(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	if err := store.Set(ctx, "price:sol", []byte(`{"v":1}`), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	res, err := store.Get(ctx, "price:sol", 5*time.Minute)
	if err != nil {
		t.Fatalf("Get fresh failed: %v", err)
	}
	if !res.Hit || res.Stale {
		t.Fatalf("expected fresh hit, got %+v", res)
	}

	now = now.Add(2 * time.Minute)
	res, err = store.Get(ctx, "price:sol", 5*time.Minute)
	if err != nil {
		t.Fatalf("Get stale failed: %v", err)
	}
	if !res.Hit || !res.Stale || res.TooStale || !res.Usable() {
		t.Fatalf("expected stale within budget, got %+v", res)
	}

	res, err = store.Get(ctx, "price:sol", 10*time.Second)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !res.TooStale || res.Usable() {
		t.Fatalf("expected too stale, got %+v", res)
	}

	res, err = store.Get(ctx, "price:sol", -1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if res.TooStale {
		t.Fatalf("negative max stale should never expire, got %+v", res)
	}
}

func TestCacheMissAndDelete(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	res, err := store.Get(ctx, "missing", time.Minute)
	if err != nil || res.Hit {
		t.Fatalf("expected miss, got %+v err=%v", res, err)
	}
	if err := store.Set(ctx, "k", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if res, _ := store.Get(ctx, "k", time.Minute); res.Hit {
		t.Fatalf("expected miss after delete, got %+v", res)
	}
}

func TestCacheJSONRoundTripAndPrune(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }

	type quote struct {
		Price float64 `json:"price"`
	}
	if err := store.SetJSON(ctx, "quote", quote{Price: 142.5}, time.Second); err != nil {
		t.Fatalf("SetJSON failed: %v", err)
	}
	var got quote
	if _, ok, err := store.GetJSON(ctx, "quote", 0, &got); err != nil || !ok || got.Price != 142.5 {
		t.Fatalf("GetJSON = %+v ok=%v err=%v", got, ok, err)
	}

	now = now.Add(time.Hour)
	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if _, ok, err := store.GetJSON(ctx, "quote", -1, &got); err != nil || ok {
		t.Fatalf("expected pruned entry, ok=%v err=%v", ok, err)
	}
}

func TestCacheConcurrentOpenAndSet(t *testing.T) {
	tmp := t.TempDir()
	dbPath := filepath.Join(tmp, "cache.db")
	lockPath := filepath.Join(tmp, "cache.lock")
	ctx := context.Background()

	const workers = 8
	const iterations = 20

	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for worker := 0; worker < workers; worker++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			store, err := Open(dbPath, lockPath)
			if err != nil {
				errCh <- fmt.Errorf("worker %d open: %w", workerID, err)
				return
			}
			defer store.Close()

			for i := 0; i < iterations; i++ {
				key := fmt.Sprintf("worker-%d-key-%d", workerID, i)
				if err := store.Set(ctx, key, []byte(`{"ok":true}`), time.Minute); err != nil {
					errCh <- fmt.Errorf("worker %d set iter %d: %w", workerID, i, err)
					return
				}
				res, err := store.Get(ctx, key, time.Minute)
				if err != nil {
					errCh <- fmt.Errorf("worker %d get iter %d: %w", workerID, i, err)
					return
				}
				if !res.Hit {
					errCh <- fmt.Errorf("worker %d get iter %d: expected hit", workerID, i)
					return
				}
			}
		}(worker)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}
