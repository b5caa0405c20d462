package repohost

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingFetcher struct {
	calls int32
	meta  RepoMeta
	err   error
}

func (f *countingFetcher) GetRepo(ctx context.Context, fullName string) (RepoMeta, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return RepoMeta{}, f.err
	}
	return f.meta, nil
}

func newCacheTestService(t *testing.T, fetcher RepoFetcher, ttl time.Duration) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewService(fetcher, rdb, ttl), mr
}

func TestGetRepoMetaReadThrough(t *testing.T) {
	fetcher := &countingFetcher{meta: RepoMeta{FullName: "acme/taskroom", Stars: 5}}
	svc, _ := newCacheTestService(t, fetcher, time.Minute)
	ctx := context.Background()

	first, err := svc.GetRepoMeta(ctx, "acme/taskroom")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := svc.GetRepoMeta(ctx, "acme/taskroom")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}

	if first.FullName != "acme/taskroom" || second.Stars != 5 {
		t.Fatalf("unexpected meta: %+v / %+v", first, second)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("second read should come from cache, provider called %d times", got)
	}
}

func TestGetRepoMetaRefetchesAfterTTL(t *testing.T) {
	fetcher := &countingFetcher{meta: RepoMeta{FullName: "acme/taskroom"}}
	svc, mr := newCacheTestService(t, fetcher, time.Minute)
	ctx := context.Background()

	if _, err := svc.GetRepoMeta(ctx, "acme/taskroom"); err != nil {
		t.Fatalf("first read: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := svc.GetRepoMeta(ctx, "acme/taskroom"); err != nil {
		t.Fatalf("read after expiry: %v", err)
	}

	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("expired entry should refetch, provider called %d times", got)
	}
}

func TestGetRepoMetaPropagatesProviderErrors(t *testing.T) {
	fetcher := &countingFetcher{err: ErrRepoNotFound}
	svc, _ := newCacheTestService(t, fetcher, time.Minute)

	_, err := svc.GetRepoMeta(context.Background(), "acme/ghost")
	if !errors.Is(err, ErrRepoNotFound) {
		t.Fatalf("expected ErrRepoNotFound, got %v", err)
	}
}

func TestInvalidateRepoMetaForcesRefetch(t *testing.T) {
	fetcher := &countingFetcher{meta: RepoMeta{FullName: "acme/taskroom"}}
	svc, _ := newCacheTestService(t, fetcher, time.Hour)
	ctx := context.Background()

	svc.GetRepoMeta(ctx, "acme/taskroom")
	if err := svc.InvalidateRepoMeta(ctx, "acme/taskroom"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	svc.GetRepoMeta(ctx, "acme/taskroom")

	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("invalidated entry should refetch, provider called %d times", got)
	}
}
