package cache

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }

func newTestCache(size int, ttl time.Duration) (*LRUCache[int], *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](size, ttl)
	c.now = clk.now
	return c, clk
}

func TestLRUGetSetExpiry(t *testing.T) {
	c, clk := newTestCache(4, time.Minute)

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("expected hit, got %v %v", v, ok)
	}
	clk.t = clk.t.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected expiry")
	}
	st := c.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.Size != 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestLRUEviction(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("least recently used entry should be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("recently used entry should survive")
	}
	if c.Size() != 2 {
		t.Fatalf("expected size 2, got %d", c.Size())
	}
}

func TestLRUCleanAndDelete(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("old", 1)
	clk.t = clk.t.Add(30 * time.Second)
	c.Set("new", 2)
	clk.t = clk.t.Add(45 * time.Second)

	if n := c.CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired entry, got %d", n)
	}
	c.Delete("missing")
	c.Delete("new")
	if c.Size() != 0 {
		t.Fatalf("delete should empty the cache, size %d", c.Size())
	}
}

func TestManager(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)
	c.Set("x", 1)
	clk.t = clk.t.Add(time.Hour)

	m := NewManager()
	m.Register(c)
	if n := m.CleanNow(); n != 1 {
		t.Fatalf("expected 1 cleaned, got %d", n)
	}
	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}

type plainCleaner struct{}

func (plainCleaner) CleanExpired() int { return 0 }

func TestManagerStats(t *testing.T) {
	a, _ := newTestCache(10, time.Hour)
	a.Set("x", 1)
	a.Get("x")
	a.Get("y")
	b, _ := newTestCache(10, time.Hour)
	b.Set("p", 1)
	b.Set("q", 2)
	b.Get("p")

	m := NewManager()
	m.Register(a)
	m.Register(b)
	m.Register(plainCleaner{})

	want := Stats{Size: 3, Hits: 2, Misses: 1}
	if got := m.Stats(); got != want {
		t.Fatalf("stats = %+v, want %+v", got, want)
	}
}
