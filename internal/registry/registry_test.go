package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/vrtools/xrmirror/internal/oxr"
)

func TestRegisterLookup(t *testing.T) {
	tbl := New[string]()
	tbl.Register(oxr.Handle(7), "seven")

	got, err := tbl.Lookup(oxr.Handle(7))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != "seven" {
		t.Fatalf("Lookup = %q, want %q", got, "seven")
	}
}

func TestLookupUnknownHandle(t *testing.T) {
	tbl := New[int]()
	_, err := tbl.Lookup(oxr.Handle(42))
	if !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("Lookup error = %v, want ErrInvalidHandle", err)
	}
}

func TestRegisterReplacesRecycledHandle(t *testing.T) {
	tbl := New[string]()
	tbl.Register(oxr.Handle(1), "old")
	tbl.Register(oxr.Handle(1), "new")

	got, err := tbl.Lookup(oxr.Handle(1))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if got != "new" {
		t.Fatalf("Lookup = %q, want replacement to win", got)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tbl.Len())
	}
}

func TestUnregisterUnknownIsNoop(t *testing.T) {
	tbl := New[int]()
	tbl.Register(oxr.Handle(1), 1)
	tbl.Unregister(oxr.Handle(99))
	if tbl.Len() != 1 {
		t.Fatalf("Len = %d after no-op unregister, want 1", tbl.Len())
	}
}

func TestDrainEmptiesTable(t *testing.T) {
	tbl := New[int]()
	for i := 1; i <= 5; i++ {
		tbl.Register(oxr.Handle(i), i)
	}

	shadows := tbl.Drain()
	if len(shadows) != 5 {
		t.Fatalf("Drain returned %d shadows, want 5", len(shadows))
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after Drain, want 0", tbl.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	tbl := New[uint64]()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				h := oxr.Handle(base*1000 + j)
				tbl.Register(h, uint64(j))
				if _, err := tbl.Lookup(h); err != nil {
					t.Errorf("Lookup %v failed: %v", h, err)
				}
				tbl.Unregister(h)
			}
		}(i)
	}
	wg.Wait()

	if tbl.Len() != 0 {
		t.Fatalf("Len = %d after balanced register/unregister, want 0", tbl.Len())
	}
}
