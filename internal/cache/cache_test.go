package cache

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCacheEviction(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a")
	}
	c.Set("c", 3) // evicts b, a was used more recently

	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUCacheTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewLRUCache[string](10, time.Minute).WithClock(func() time.Time { return now })
	c.Set("k", "v")
	c.Set("k2", "v2")

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected k to expire")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	if c.Size() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Size())
	}
}

func TestLRUCacheDeletePrefix(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("ds1|a", 1)
	c.Set("ds1|b", 2)
	c.Set("ds2|a", 3)
	if n := c.DeletePrefix("ds1|"); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if _, ok := c.Get("ds2|a"); !ok {
		t.Fatalf("unrelated key removed")
	}
	c.Delete("ds2|a")
	if c.Size() != 0 {
		t.Fatalf("expected empty cache")
	}
}

func TestLRUCacheDisabled(t *testing.T) {
	c := NewLRUCache[int](0, time.Minute)
	c.Set("a", 1)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("zero sized cache must not store")
	}
}

func TestManagerCleanup(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(nil)
	m.Register(CleanerFunc(func() int {
		calls.Add(1)
		return 1
	}))
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}

	m.StartCleanup(5 * time.Millisecond)
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()
	if calls.Load() < 3 {
		t.Fatalf("expected periodic cleanup, got %d calls", calls.Load())
	}
}

func TestManagerStopWithoutStart(t *testing.T) {
	m := NewManager(nil)
	m.Stop()
}
