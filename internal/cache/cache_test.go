package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// waitFor ждёт выполнения условия (фоновые загрузки асинхронны)
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func newTestCache(t *testing.T) *Cache {
	c := New(Config{FetchTimeout: time.Second})
	t.Cleanup(c.Close)
	return c
}

func TestNewKey(t *testing.T) {
	k := NewKey("quote", "AAPL")
	if k != "quote/AAPL" {
		t.Errorf("NewKey = %q", k)
	}
	if k.Prefix() != "quote" {
		t.Errorf("Prefix = %q", k.Prefix())
	}
	if NewKey("notifications").Prefix() != "notifications" {
		t.Error("single-part prefix mismatch")
	}
}

func TestWriteRead(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("counter")

	if _, ok := c.Read(key); ok {
		t.Fatal("empty cache returned a value")
	}

	c.Write(key, func(prev interface{}, ok bool) interface{} {
		if ok {
			t.Error("first write must see ok=false")
		}
		return 1
	})
	got := c.Write(key, func(prev interface{}, ok bool) interface{} {
		return prev.(int) + 1
	})

	if got != 2 {
		t.Errorf("Write returned %v, want 2", got)
	}
	if v, _ := c.Read(key); v != 2 {
		t.Errorf("Read = %v, want 2", v)
	}
	if c.Version(key) == 0 {
		t.Error("version not bumped")
	}
}

func TestWrite_ConcurrentUpdatersSerialized(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("counter")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Update(c, key, func(prev int, _ bool) int { return prev + 1 })
		}()
	}
	wg.Wait()

	if v, _ := ReadAs[int](c, key); v != 100 {
		t.Errorf("counter = %d, want 100", v)
	}
}

func TestObserve_FetchesWhenAbsent(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("notifications")

	var got atomic.Value
	cancel := c.Observe(Query{
		Key:   key,
		Fetch: func(context.Context) (interface{}, error) { return "fetched", nil },
	}, func(v interface{}) { got.Store(v) })
	defer cancel()

	waitFor(t, func() bool { return got.Load() == "fetched" })
	if c.IsStale(key) {
		t.Error("entry must be fresh after fetch")
	}
}

func TestObserve_DeliversCurrentValueWithoutFetch(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("quote", "AAPL")
	c.Set(key, 42)

	var fetches int32
	var got interface{}
	cancel := c.Observe(Query{
		Key: key,
		Fetch: func(context.Context) (interface{}, error) {
			atomic.AddInt32(&fetches, 1)
			return 0, nil
		},
	}, func(v interface{}) { got = v })
	defer cancel()

	if got != 42 {
		t.Errorf("observer got %v, want 42", got)
	}
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&fetches) != 0 {
		t.Error("fresh entry must not be fetched")
	}
}

func TestInvalidate_RefetchesActiveObserver(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("notifications")

	var n int32
	cancel := c.Observe(Query{
		Key: key,
		Fetch: func(context.Context) (interface{}, error) {
			return int(atomic.AddInt32(&n, 1)), nil
		},
	}, nil)

	waitFor(t, func() bool { v, _ := c.Read(key); return v == 1 })

	c.Invalidate(key)
	waitFor(t, func() bool { v, _ := c.Read(key); return v == 2 })

	// без наблюдателей Invalidate только помечает запись
	cancel()
	c.Invalidate(key)
	time.Sleep(20 * time.Millisecond)
	if atomic.LoadInt32(&n) != 2 {
		t.Errorf("fetch count = %d, want 2", n)
	}
	if !c.IsStale(key) {
		t.Error("entry must be stale")
	}
}

func TestFetchFailure_KeepsLastValue(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("quote", "AAPL")
	c.Set(key, "good")

	c.Register(Query{
		Key:   key,
		Fetch: func(context.Context) (interface{}, error) { return nil, errors.New("503") },
	})

	if err := c.Refetch(context.Background(), key); err == nil {
		t.Fatal("expected fetch error")
	}
	if v, _ := c.Read(key); v != "good" {
		t.Errorf("value = %v, want last good value", v)
	}
}

func TestRefetch_NoQuery(t *testing.T) {
	c := newTestCache(t)
	if err := c.Refetch(context.Background(), NewKey("x")); !errors.Is(err, ErrNoQuery) {
		t.Errorf("expected ErrNoQuery, got %v", err)
	}
}

func TestRefetch_UsesMerge(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("list")
	c.Set(key, []int{3})

	c.Register(Query{
		Key:   key,
		Fetch: func(context.Context) (interface{}, error) { return []int{1, 2}, nil },
		Merge: func(prev interface{}, ok bool, fetched interface{}) interface{} {
			return append(append([]int{}, prev.([]int)...), fetched.([]int)...)
		},
	})

	if err := c.Refetch(context.Background(), key); err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	v, _ := ReadAs[[]int](c, key)
	if len(v) != 3 {
		t.Errorf("merged = %v, want 3 items", v)
	}
}

func TestFetchTimeout(t *testing.T) {
	c := New(Config{FetchTimeout: 20 * time.Millisecond})
	defer c.Close()
	key := NewKey("slow")

	c.Register(Query{
		Key: key,
		Fetch: func(ctx context.Context) (interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	start := time.Now()
	err := c.Refetch(context.Background(), key)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("fetch was not bounded by FetchTimeout")
	}
}

func TestInvalidateDuringFetch_FetchesAgain(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("notifications")

	release := make(chan struct{})
	var n int32
	cancel := c.Observe(Query{
		Key: key,
		Fetch: func(context.Context) (interface{}, error) {
			if atomic.AddInt32(&n, 1) == 1 {
				<-release
			}
			return int(atomic.LoadInt32(&n)), nil
		},
	}, nil)
	defer cancel()

	waitFor(t, func() bool { return atomic.LoadInt32(&n) == 1 })
	c.Invalidate(key)
	close(release)

	waitFor(t, func() bool { return atomic.LoadInt32(&n) == 2 })
}

func TestWatch_VersionsMonotonic(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("quote", "AAPL")

	var mu sync.Mutex
	var seen []int
	cancel := WatchAs(c, key, func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	defer cancel()

	for i := 1; i <= 5; i++ {
		c.Set(key, i)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 5 || seen[4] != 5 {
		t.Errorf("seen = %v", seen)
	}
}

func TestRemoveAndClear(t *testing.T) {
	c := newTestCache(t)
	a, b := NewKey("a"), NewKey("b")
	c.Set(a, 1)
	c.Set(b, 2)

	var removed bool
	cancel := c.Watch(a, func(v interface{}) {
		if v == nil {
			removed = true
		}
	})
	defer cancel()

	c.Remove(a)
	if _, ok := c.Read(a); ok {
		t.Error("a still present")
	}
	if !removed {
		t.Error("observer not notified about removal")
	}

	c.Clear()
	if _, ok := c.Read(b); ok {
		t.Error("b still present after Clear")
	}
}

func TestReadAs_WrongType(t *testing.T) {
	c := newTestCache(t)
	c.Set(NewKey("x"), "str")
	if _, ok := ReadAs[int](c, NewKey("x")); ok {
		t.Error("ReadAs must fail on wrong type")
	}
}

func TestPatch_OnlyExisting(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("notifications")

	if _, ok := PatchAs(c, key, func(prev []int) []int { return append(prev, 1) }); ok {
		t.Fatal("Patch must not create an entry")
	}
	if _, ok := c.Read(key); ok {
		t.Fatal("entry created by Patch")
	}

	c.Set(key, []int{1})
	c.Invalidate(key)
	got, ok := PatchAs(c, key, func(prev []int) []int { return append(prev, 2) })
	if !ok || len(got) != 2 {
		t.Fatalf("PatchAs = %v, %v", got, ok)
	}
	if !c.IsStale(key) {
		t.Error("Patch must keep the entry stale")
	}
}

func TestClear_DropsInFlightFetch(t *testing.T) {
	c := newTestCache(t)
	key := NewKey("notifications")
	started := make(chan struct{})
	release := make(chan struct{})

	c.Register(Query{Key: key, Fetch: func(ctx context.Context) (interface{}, error) {
		close(started)
		<-release
		return []int{1, 2}, nil
	}})

	done := make(chan error, 1)
	go func() { done <- c.Refetch(context.Background(), key) }()
	<-started

	c.Clear()
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Refetch: %v", err)
	}
	if _, ok := c.Read(key); ok {
		t.Error("fetch started before Clear repopulated the cache")
	}
}
