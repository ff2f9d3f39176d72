package store

import (
	"sync"
	"testing"
	"time"
)

func TestKeyLockSerializesSameKey(t *testing.T) {
	kl := NewKeyLock()
	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("api")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxInside)
	}
	if kl.Len() != 0 {
		t.Fatalf("entries leaked: %d", kl.Len())
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	kl := NewKeyLock()
	unlockA := kl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := kl.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("lock on b blocked by a")
	}
	unlockA()
	unlockA() // idempotent
}

func TestValidateApplicationName(t *testing.T) {
	for _, bad := range []string{"", "  ", "a/b", "..", `a\b`} {
		if err := ValidateApplicationName(bad); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
	if err := ValidateApplicationName("worker-1"); err != nil {
		t.Fatalf("valid name rejected: %v", err)
	}
}
