package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupDedup(t *testing.T) (*Deduplicator, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, 5*time.Minute), mr
}

func TestReserveRequiresKey(t *testing.T) {
	d, _ := setupDedup(t)
	if _, err := d.Reserve(context.Background(), ""); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestReserveThenCommitThenReplay(t *testing.T) {
	d, _ := setupDedup(t)
	ctx := context.Background()

	out, err := d.Reserve(ctx, "k1")
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.Status != StatusFresh {
		t.Fatalf("expected fresh, got %v", out.Status)
	}

	// While reserved, a duplicate sees in-progress.
	dup, err := d.Reserve(ctx, "k1")
	if err != nil {
		t.Fatalf("duplicate reserve: %v", err)
	}
	if dup.Status != StatusInProgress {
		t.Fatalf("expected in progress, got %v", dup.Status)
	}

	if err := d.Commit(ctx, "k1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	replay, err := d.Reserve(ctx, "k1")
	if err != nil {
		t.Fatalf("replay reserve: %v", err)
	}
	if replay.Status != StatusDone {
		t.Fatalf("expected done, got %v", replay.Status)
	}
	if string(replay.Result) != `{"ok":true}` {
		t.Fatalf("unexpected stored result %s", replay.Result)
	}
}

func TestReleaseAllowsRetry(t *testing.T) {
	d, _ := setupDedup(t)
	ctx := context.Background()

	if out, _ := d.Reserve(ctx, "k1"); out.Status != StatusFresh {
		t.Fatalf("expected fresh, got %v", out.Status)
	}
	if err := d.Release(ctx, "k1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	out, err := d.Reserve(ctx, "k1")
	if err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
	if out.Status != StatusFresh {
		t.Fatalf("expected fresh after release, got %v", out.Status)
	}
}

func TestWindowExpiryTreatsReplayAsNew(t *testing.T) {
	d, mr := setupDedup(t)
	ctx := context.Background()

	if _, err := d.Reserve(ctx, "k1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := d.Commit(ctx, "k1", []byte("result")); err != nil {
		t.Fatalf("commit: %v", err)
	}

	mr.FastForward(10 * time.Minute)

	out, err := d.Reserve(ctx, "k1")
	if err != nil {
		t.Fatalf("reserve after expiry: %v", err)
	}
	if out.Status != StatusFresh {
		t.Fatalf("expected fresh after window expiry, got %v", out.Status)
	}
}

func TestConcurrentReserveGrantsExactlyOne(t *testing.T) {
	d, _ := setupDedup(t)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	fresh := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := d.Reserve(ctx, "hot-key")
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if out.Status == StatusFresh {
				fresh <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(fresh)

	count := 0
	for range fresh {
		count++
	}
	if count != 1 {
		t.Fatalf("expected exactly one fresh reservation, got %d", count)
	}
}
