package markets

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource serves canned tables and counts upstream calls.
type fakeSource struct {
	mu     sync.Mutex
	table  map[int64]string
	err    error
	callsN atomic.Int32
}

func (f *fakeSource) OrderBookDetails(ctx context.Context) (map[int64]string, error) {
	f.callsN.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]string, len(f.table))
	for k, v := range f.table {
		out[k] = v
	}
	return out, nil
}

func TestResolve_KnownMarket(t *testing.T) {
	source := &fakeSource{table: map[int64]string{0: "ETH", 1: "BTC"}}
	r := NewResolver(source)

	if got := r.Resolve(context.Background(), 1); got != "BTC" {
		t.Errorf("Resolve(1) = %q, want %q", got, "BTC")
	}
}

func TestResolve_UnknownMarketPlaceholder(t *testing.T) {
	source := &fakeSource{table: map[int64]string{0: "ETH"}}
	r := NewResolver(source)

	if got := r.Resolve(context.Background(), 99); got != "ID:99" {
		t.Errorf("Resolve(99) = %q, want %q", got, "ID:99")
	}
}

func TestResolve_NoTablePlaceholder(t *testing.T) {
	source := &fakeSource{err: errors.New("upstream down")}
	r := NewResolver(source)

	// Resolution must survive a failed first load.
	if got := r.Resolve(context.Background(), 5); got != "ID:5" {
		t.Errorf("Resolve(5) = %q, want %q", got, "ID:5")
	}
}

func TestResolve_LazyFirstLoad(t *testing.T) {
	source := &fakeSource{table: map[int64]string{2: "SOL"}}
	r := NewResolver(source)

	if source.callsN.Load() != 0 {
		t.Fatal("source called before first Resolve")
	}

	r.Resolve(context.Background(), 2)
	r.Resolve(context.Background(), 2)

	if got := source.callsN.Load(); got != 1 {
		t.Errorf("source called %d times, want 1 (fresh snapshot reused)", got)
	}
}

func TestRefresh_KeepsStaleSnapshotOnError(t *testing.T) {
	source := &fakeSource{table: map[int64]string{3: "DOGE"}}
	r := NewResolver(source, WithRefreshInterval(time.Nanosecond))

	ctx := context.Background()
	if got := r.Resolve(ctx, 3); got != "DOGE" {
		t.Fatalf("Resolve(3) = %q, want %q", got, "DOGE")
	}

	// Snapshot is now stale and the upstream starts failing.
	source.mu.Lock()
	source.err = errors.New("upstream down")
	source.mu.Unlock()
	time.Sleep(time.Millisecond)

	if got := r.Resolve(ctx, 3); got != "DOGE" {
		t.Errorf("Resolve(3) after failed refresh = %q, want stale %q", got, "DOGE")
	}
}

func TestRefresh_SwapsTableWholesale(t *testing.T) {
	source := &fakeSource{table: map[int64]string{0: "ETH"}}
	r := NewResolver(source, WithRefreshInterval(time.Nanosecond))

	ctx := context.Background()
	if got := r.Resolve(ctx, 0); got != "ETH" {
		t.Fatalf("Resolve(0) = %q", got)
	}

	source.mu.Lock()
	source.table = map[int64]string{0: "ETH", 4: "ARB"}
	source.mu.Unlock()
	time.Sleep(time.Millisecond)

	if got := r.Resolve(ctx, 4); got != "ARB" {
		t.Errorf("Resolve(4) after refresh = %q, want %q", got, "ARB")
	}
}

func TestResolve_ConcurrentReadersDuringRefresh(t *testing.T) {
	source := &fakeSource{table: map[int64]string{0: "ETH"}}
	r := NewResolver(source, WithRefreshInterval(time.Nanosecond))

	ctx := context.Background()
	r.Resolve(ctx, 0)

	// Readers must always see a complete table: either generation is fine,
	// a torn or empty result is not.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if got := r.Resolve(ctx, 0); got != "ETH" {
					t.Errorf("Resolve(0) = %q, want %q", got, "ETH")
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTable_Copy(t *testing.T) {
	source := &fakeSource{table: map[int64]string{0: "ETH"}}
	r := NewResolver(source)

	table := r.Table(context.Background())
	table[0] = "mutated"

	if got := r.Resolve(context.Background(), 0); got != "ETH" {
		t.Errorf("snapshot mutated through Table() copy: Resolve(0) = %q", got)
	}
}
