package fold

import (
	"sync"
	"testing"
)

func TestInternReturnsSharedPointerForSameAddress(t *testing.T) {
	in := NewInterner()
	addr := [20]byte{1, 2, 3}

	p1 := in.Intern(addr)
	p2 := in.Intern(addr)
	if p1 != p2 {
		t.Fatal("expected the same backing pointer for repeated interning of the same address")
	}
	if *p1 != addr {
		t.Fatalf("got %v, want %v", *p1, addr)
	}
}

func TestInternDistinguishesDifferentAddresses(t *testing.T) {
	in := NewInterner()
	p1 := in.Intern([20]byte{1})
	p2 := in.Intern([20]byte{2})
	if p1 == p2 {
		t.Fatal("distinct addresses must not share a backing pointer")
	}
}

func TestInternIsConcurrencySafe(t *testing.T) {
	in := NewInterner()
	addr := [20]byte{9, 9, 9}
	var wg sync.WaitGroup
	results := make([]*[20]byte, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = in.Intern(addr)
		}(i)
	}
	wg.Wait()
	for _, p := range results[1:] {
		if p != results[0] {
			t.Fatal("concurrent interning of the same address produced divergent pointers")
		}
	}
}
