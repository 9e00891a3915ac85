package task

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loop(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func TestStopJoin(t *testing.T) {
	h := Start(context.Background(), "loop", loop)

	select {
	case <-h.Done():
		t.Fatal("task finished before Stop")
	case <-time.After(20 * time.Millisecond):
	}

	if err := h.StopAndJoin(); err != nil {
		t.Errorf("StopAndJoin() error = %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed after Join")
	}
}

func TestJoinReturnsTaskError(t *testing.T) {
	boom := errors.New("bind failed")
	h := Start(context.Background(), "failing", func(context.Context) error { return boom })

	if err := h.Join(); !errors.Is(err, boom) {
		t.Errorf("Join() error = %v, want %v", err, boom)
	}
	h.Stop() // no-op after exit
}

func TestParentCancelStopsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, "loop", loop)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("task ignored parent cancellation")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := Start(context.Background(), "loop", loop)
	h.Stop()
	h.Stop()
	if err := h.Join(); err != nil {
		t.Errorf("Join() error = %v", err)
	}
}

func TestGroupStopAll(t *testing.T) {
	var g Group
	boom := errors.New("boom")
	g.Add(Start(context.Background(), "dns", loop))
	g.Add(Start(context.Background(), "http", func(ctx context.Context) error {
		<-ctx.Done()
		return boom
	}))

	if got := g.Names(); len(got) != 2 || got[0] != "dns" || got[1] != "http" {
		t.Errorf("Names() = %v", got)
	}
	if err := g.StopAll(); !errors.Is(err, boom) {
		t.Errorf("StopAll() error = %v, want %v", err, boom)
	}
	if g.Len() != 0 {
		t.Errorf("Len() = %d after StopAll, want 0", g.Len())
	}
	if err := g.StopAll(); err != nil {
		t.Errorf("second StopAll() error = %v", err)
	}
}
