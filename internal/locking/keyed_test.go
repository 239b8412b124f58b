package locking

import (
	"sync"
	"testing"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	locks := NewKeyed()

	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer locks.Lock("a")()
			counter++
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Errorf("expected 100 serialized increments, got %d", counter)
	}
}

func TestKeyedDistinctKeysDoNotBlock(t *testing.T) {
	locks := NewKeyed()

	unlockA := locks.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		defer locks.Lock("b")()
		close(done)
	}()
	<-done
}
