package engine

import (
	"sync"
	"testing"
)

func TestKeyedLocks_MutualExclusion(t *testing.T) {
	k := newKeyedLocks()

	var counter int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.lock("fraud/ev-1")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
}

func TestKeyedLocks_EntriesReclaimed(t *testing.T) {
	k := newKeyedLocks()

	unlock := k.lock("fraud/ev-1")
	k.mu.Lock()
	if len(k.entries) != 1 {
		t.Errorf("entries = %d while held, want 1", len(k.entries))
	}
	k.mu.Unlock()

	unlock()
	k.mu.Lock()
	if len(k.entries) != 0 {
		t.Errorf("entries = %d after release, want 0", len(k.entries))
	}
	k.mu.Unlock()
}

func TestKeyedLocks_IndependentKeys(t *testing.T) {
	k := newKeyedLocks()

	unlockA := k.lock("fraud/ev-a")
	done := make(chan struct{})
	go func() {
		unlockB := k.lock("fraud/ev-b")
		unlockB()
		close(done)
	}()

	// A held lock on one key must not block another key.
	<-done
	unlockA()
}

func TestInflightSet(t *testing.T) {
	s := newInflightSet()

	if !s.tryAdd("fraud/ev-1") {
		t.Error("first tryAdd returned false")
	}
	if s.tryAdd("fraud/ev-1") {
		t.Error("duplicate tryAdd returned true")
	}
	if !s.tryAdd("fraud/ev-2") {
		t.Error("distinct key rejected")
	}

	s.remove("fraud/ev-1")
	if !s.tryAdd("fraud/ev-1") {
		t.Error("tryAdd after remove returned false")
	}

	// Removing a missing key is a no-op.
	s.remove("fraud/ev-missing")
}
