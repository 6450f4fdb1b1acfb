package cluster

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransport_Memory(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	tr := NewInMemoryTransport()
	rcv := make(chan Envelope, 1)
	s, err := tr.Serve(t.Context(), "mem://n1/core1", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		rcv <- envelope
		return []byte("pong"), nil
	})
	require.NoError(t, err)
	require.NotNil(t, s)

	res, err := tr.Request(t.Context(), "mem://n1/core1", NewEnvelope("/select", []byte("hello"), WithParam("q", "*:*")))
	require.NoError(t, err)
	require.Equal(t, "pong", string(res))

	select {
	case <-time.After(10 * time.Millisecond):
		t.Fatal("no message received")
	case env := <-rcv:
		require.Equal(t, "hello", string(env.Data))
		require.Equal(t, "*:*", env.Params.Get("q"))
	}
	require.EqualValues(t, 1, tr.Requests())

	require.NoError(t, s.Unsubscribe())
	require.NoError(t, tr.Close())
}

func TestTransport_Memory_UnknownEndpointRefused(t *testing.T) {
	tr := CreateInMemoryTransport(t)

	_, err := tr.Request(t.Context(), "mem://nowhere/core", NewEnvelope("/select", nil))
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, err, ErrConnectionRefused)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.Equal(t, "mem://nowhere/core", ce.Endpoint)
	require.EqualValues(t, 0, tr.Requests())
}

func TestTransport_Memory_HandlerErrorIsRemote(t *testing.T) {
	tr := CreateInMemoryTransport(t)
	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/update", nil))
	require.ErrorContains(t, err, "boom")
	require.ErrorIs(t, err, ErrRemote)
	require.False(t, IsConnectionError(err))

	var re *RemoteError
	require.True(t, errors.As(err, &re))
	require.Equal(t, 500, re.Code)
	require.Equal(t, "mem://n1/c", re.Endpoint)
}

func TestTransport_Memory_StaleRemoteError(t *testing.T) {
	tr := CreateInMemoryTransport(t)
	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		return nil, &RemoteError{Code: StaleStateCode, Message: "stale state"}
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/update", nil))
	require.True(t, IsStale(err))
}

func TestTransport_Memory_HandlerTimeout(t *testing.T) {
	tr := NewInMemoryTransport(MemoryTransportOpts{
		HandlerTimeout: 50 * time.Millisecond,
	})
	defer func() { require.NoError(t, tr.Close()) }()

	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return []byte("ok"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/select", nil))
	require.ErrorIs(t, err, ErrHandlerTimeout)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	require.True(t, ce.Timeout)
}

func TestTransport_Memory_ConcurrencyLimit(t *testing.T) {
	maxConcurrent := 2
	tr := NewInMemoryTransport(MemoryTransportOpts{
		MaxConcurrentHandlers: maxConcurrent,
		HandlerTimeout:        5 * time.Second,
	})

	var (
		activeCount int
		maxActive   int
		mu          sync.Mutex
	)

	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		mu.Lock()
		activeCount++
		if activeCount > maxActive {
			maxActive = activeCount
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		activeCount--
		mu.Unlock()
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	numRequests := 5
	results := make(chan error, numRequests)
	for range numRequests {
		go func() {
			_, err := tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/update", nil))
			results <- err
		}()
	}
	for range numRequests {
		require.NoError(t, <-results)
	}

	mu.Lock()
	actualMax := maxActive
	mu.Unlock()
	require.LessOrEqual(t, actualMax, maxConcurrent)

	require.NoError(t, tr.Close())
}

func TestTransport_Memory_ReservedHeaderRejected(t *testing.T) {
	tr := CreateInMemoryTransport(t)
	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/select", nil, WithHeader("x-shardroute-internal", "bad")))
	require.ErrorIs(t, err, ErrReservedHeader)
}

func TestTransport_Memory_EndpointInUse(t *testing.T) {
	tr := CreateInMemoryTransport(t)
	h := func(ctx context.Context, envelope Envelope) ([]byte, error) { return nil, nil }

	_, err := tr.Serve(t.Context(), "mem://n1/c", h)
	require.NoError(t, err)
	_, err = tr.Serve(t.Context(), "mem://n1/c", h)
	require.ErrorIs(t, err, ErrEndpointInUse)
}

func TestTransport_Memory_ServeEndsWithContext(t *testing.T) {
	tr := CreateInMemoryTransport(t)
	ctx, cancel := context.WithCancel(t.Context())
	_, err := tr.Serve(ctx, "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/select", nil))
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		_, err := tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/select", nil))
		return errors.Is(err, ErrConnectionRefused)
	}, time.Second, 10*time.Millisecond)
}

func TestTransport_Memory_GracefulShutdown(t *testing.T) {
	tr := NewInMemoryTransport()

	handlerStarted := make(chan struct{})
	handlerDone := make(chan struct{})

	_, err := tr.Serve(t.Context(), "mem://n1/c", func(ctx context.Context, envelope Envelope) ([]byte, error) {
		close(handlerStarted)
		time.Sleep(100 * time.Millisecond)
		close(handlerDone)
		return []byte("ok"), nil
	})
	require.NoError(t, err)

	go func() {
		_, _ = tr.Request(context.Background(), "mem://n1/c", NewEnvelope("/update", nil))
	}()

	<-handlerStarted

	closeStart := time.Now()
	require.NoError(t, tr.Close())
	closeDuration := time.Since(closeStart)

	select {
	case <-handlerDone:
	default:
		t.Fatal("Close() returned before handler completed")
	}
	require.Greater(t, closeDuration, 50*time.Millisecond)

	_, err = tr.Request(t.Context(), "mem://n1/c", NewEnvelope("/update", nil))
	require.ErrorIs(t, err, ErrTransportClosed)
}
