package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestStopWaitsForGoroutines(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	ran := make(chan struct{})
	s.Go("worker", func(ctx context.Context) error {
		<-ctx.Done()
		close(ran)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-ran:
	default:
		t.Fatal("goroutine did not observe cancellation before Stop returned")
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	select {
	case <-s.Context().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor context not canceled after goroutine error")
	}
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("Err = %v, want %v", s.Err(), boom)
	}
}

func TestPanicRecovery(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("panicky", func(ctx context.Context) { panic("kaboom") })

	panics := func() uint64 {
		for _, g := range s.GetSnapshot().Goroutines {
			if g.Name == "panicky" {
				return g.Panics
			}
		}
		return 0
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && panics() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := panics(); got != 1 {
		t.Fatalf("panics = %d, want 1", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
