package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWaitReadyBlocksUntilMarkRunning(t *testing.T) {
	b := NewBase()
	b.MarkStarting()

	done := make(chan error, 1)
	go func() { done <- b.WaitReady(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitReady returned before MarkRunning")
	case <-time.After(20 * time.Millisecond):
	}

	b.MarkRunning()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitReady never returned after MarkRunning")
	}
	if b.State() != Running {
		t.Fatalf("got %s, want running", b.State())
	}
}

func TestWaitReadyRespectsContextCancellation(t *testing.T) {
	b := NewBase()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.WaitReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestBeginStopIsIdempotent(t *testing.T) {
	b := NewBase()
	if !b.BeginStop() {
		t.Fatal("expected the first BeginStop to return true")
	}
	if b.BeginStop() {
		t.Fatal("expected a second BeginStop to return false")
	}
}

type fakeRunnable struct {
	stopErr error
	stopped bool
}

func (f *fakeRunnable) Start(ctx context.Context) error {
	return nil
}

func (f *fakeRunnable) WaitReady(ctx context.Context) error {
	return nil
}

func (f *fakeRunnable) State() State {
	return Running
}
func (f *fakeRunnable) Stop() error {
	f.stopped = true
	return f.stopErr
}

func TestStopAllStopsEveryoneAndReturnsFirstError(t *testing.T) {
	want := errors.New("boom")
	a := &fakeRunnable{}
	b := &fakeRunnable{stopErr: want}
	c := &fakeRunnable{}

	err := StopAll(a, b, c)
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
	if !a.stopped || !b.stopped || !c.stopped {
		t.Fatal("expected every runnable to be stopped despite one failing")
	}
}
