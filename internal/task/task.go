// Package task runs long-lived server loops as stoppable, joinable handles.
package task

import (
	"context"
	"sync"
)

// Func is a blocking loop that returns once ctx is cancelled.
type Func func(ctx context.Context) error

// Handle is a started task.
type Handle struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}

	once sync.Once
	err  error
}

// Start runs fn on its own goroutine with a context derived from parent.
func Start(parent context.Context, name string, fn Func) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(h.done)
		defer cancel()
		h.err = fn(ctx)
	}()
	return h
}

// Name returns the name given at Start.
func (h *Handle) Name() string {
	return h.name
}

// Stop asks the task to finish. It does not wait.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
}

// Done is closed when the task has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Join waits for the task to return and reports its error.
func (h *Handle) Join() error {
	<-h.done
	return h.err
}

// StopAndJoin stops the task and waits for it.
func (h *Handle) StopAndJoin() error {
	h.Stop()
	return h.Join()
}

// Group tracks several handles so they can be torn down together.
type Group struct {
	mu      sync.Mutex
	handles []*Handle
}

// Add tracks h.
func (g *Group) Add(h *Handle) {
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
}

// Len returns the number of tracked handles.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Names returns the names of the tracked handles.
func (g *Group) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, len(g.handles))
	for i, h := range g.handles {
		names[i] = h.name
	}
	return names
}

// StopAll stops every handle, joins them all and forgets them. The first
// task error is returned.
func (g *Group) StopAll() error {
	g.mu.Lock()
	handles := g.handles
	g.handles = nil
	g.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
	var first error
	for _, h := range handles {
		if err := h.Join(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
