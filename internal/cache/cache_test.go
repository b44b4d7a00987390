package cache

import (
	"errors"
	"testing"
)

func TestGetOrCreate(t *testing.T) {
	c := New[string, int](0, nil)
	calls := 0
	create := func() (int, error) {
		calls++
		return 42, nil
	}

	for range 3 {
		v, err := c.GetOrCreate("a", create)
		if err != nil || v != 42 {
			t.Fatalf("GetOrCreate() = %d, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestGetOrCreateError(t *testing.T) {
	c := New[string, int](0, nil)
	wantErr := errors.New("boom")
	if _, err := c.GetOrCreate("a", func() (int, error) { return 0, wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if c.Len() != 0 {
		t.Errorf("failed create was cached")
	}
}

func TestEvictionOrder(t *testing.T) {
	var evicted []string
	c := New[string, int](2, func(k string, _ int) { evicted = append(evicted, k) })
	mk := func(v int) func() (int, error) { return func() (int, error) { return v, nil } }

	c.GetOrCreate("a", mk(1))
	c.GetOrCreate("b", mk(2))
	c.Get("a") // b becomes least recently used
	c.GetOrCreate("c", mk(3))

	if len(evicted) != 1 || evicted[0] != "b" {
		t.Fatalf("evicted = %v, want [b]", evicted)
	}
	if _, ok := c.Get("b"); ok {
		t.Error("b still cached")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d", c.Stats().Evictions)
	}
}

func TestDeleteFuncAndPurge(t *testing.T) {
	destroyed := map[int]bool{}
	c := New[int, int](0, func(_ int, v int) { destroyed[v] = true })
	for i := range 5 {
		c.GetOrCreate(i, func() (int, error) { return i * 10, nil })
	}

	if n := c.DeleteFunc(func(k, _ int) bool { return k%2 == 0 }); n != 3 {
		t.Errorf("DeleteFunc() = %d, want 3", n)
	}
	if !destroyed[0] || !destroyed[20] || !destroyed[40] || destroyed[10] {
		t.Errorf("destroyed = %v", destroyed)
	}

	c.Purge()
	if c.Len() != 0 || !destroyed[10] || !destroyed[30] {
		t.Errorf("Purge() left %d entries, destroyed = %v", c.Len(), destroyed)
	}
	if c.Delete(99) {
		t.Error("Delete of missing key reported success")
	}
}
