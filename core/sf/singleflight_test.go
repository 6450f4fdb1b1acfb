package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleflight_Do(t *testing.T) {
	var (
		s       = New[int]()
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
	)

	const n = 10
	results := make([]*int, n)
	started := make(chan struct{})
	var once sync.Once
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := s.Do("k", func() (*int, error) {
				once.Do(func() { close(started) })
				calls.Add(1)
				<-release
				x := 42
				return &x, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Equal(t, 42, *r)
	}
}

func TestSingleflight_DoContext_WaiterGivesUp(t *testing.T) {
	var (
		s       = New[string]()
		release = make(chan struct{})
		started = make(chan struct{})
	)

	done := make(chan error, 1)
	go func() {
		_, _, err := s.DoContext(context.Background(), "k", func() (*string, error) {
			close(started)
			<-release
			v := "ok"
			return &v, nil
		})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _, err := s.DoContext(ctx, "k", func() (*string, error) {
		t.Fatal("must join the in-flight call")
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)
}

func TestSingleflight_Error(t *testing.T) {
	s := New[int]()
	boom := errors.New("boom")
	v, _, err := s.DoContext(t.Context(), "k", func() (*int, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.Nil(t, v)
}
