package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestMutexLockerSerializes(t *testing.T) {
	l := NewMutexLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "ledger")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("Expected one holder at a time, saw %d", maxSeen)
	}
}

func TestMutexLockerHonoursContext(t *testing.T) {
	l := NewMutexLocker()
	unlock, err := l.Lock(context.Background(), "ledger")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "ledger"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy, got %v", err)
	}
	// Other keys are independent.
	other, err := l.Lock(ctx, "invoices")
	if err != nil {
		t.Fatalf("Expected a free key to lock, got %v", err)
	}
	other()
}

func TestMutexLockerUnlockIsIdempotent(t *testing.T) {
	l := NewMutexLocker()
	unlock, _ := l.Lock(context.Background(), "k")
	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock after double unlock: %v", err)
	}
	again()
}

func TestRedisLocker(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedisLocker(rdb, 2*time.Second)
	unlock, err := l.Lock(context.Background(), "test-ledger")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "test-ledger"); !errors.Is(err, ErrBusy) {
		t.Errorf("Expected ErrBusy while held, got %v", err)
	}
	unlock()
	again, err := l.Lock(context.Background(), "test-ledger")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}
