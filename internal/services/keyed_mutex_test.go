package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	locks := NewKeyedMutex()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
		counter int
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("session:1")
			defer unlock()

			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			counter++

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Equal(t, 16, counter)
	require.Equal(t, 1, maxSeen)
	require.Zero(t, locks.Len())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := NewKeyedMutex()

	unlockA := locks.Lock("a")
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()
	<-done

	require.Equal(t, 1, locks.Len())
	unlockA()
	require.Zero(t, locks.Len())
}
