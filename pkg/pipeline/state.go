package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/fctr-id/okta-ai-agent-sub001/pkg/catalog"
	"github.com/fctr-id/okta-ai-agent-sub001/pkg/models"
)

// Process is the mutable per-query state: the lifecycle status, the plan, the
// cancellation hook and the terminal payload kept for stream reconnects.
// Queries are independent; each Process has its own lock.
type Process struct {
	Query    models.Query
	Plan     models.Plan
	Flow     string
	Special  string
	Narrowed catalog.Narrowed

	mu        sync.Mutex
	status    models.ProcessStatus
	cancel    context.CancelFunc
	started   bool
	cancelled bool
	terminal  *TerminalEvent
}

// TerminalEvent is the stream-ending event, retained so reconnecting clients
// can be replayed the outcome.
type TerminalEvent struct {
	Type    models.EventType
	Payload any
}

// NewProcess creates a process in the idle state.
func NewProcess(q models.Query) *Process {
	return &Process{Query: q, status: models.StatusIdle}
}

// Status returns the current lifecycle status.
func (p *Process) Status() models.ProcessStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Transition moves the process forward. Backward moves and transitions out of
// a terminal state are rejected; the first terminal state wins.
func (p *Process) Transition(to models.ProcessStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !models.CanTransition(p.status, to) {
		return fmt.Errorf("invalid transition %s -> %s", p.status, to)
	}
	p.status = to
	return nil
}

// MarkStarted flips the execution-started latch; only the first caller gets
// true. Guards against double execution from stream reconnects.
func (p *Process) MarkStarted(cancel context.CancelFunc) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return false
	}
	p.started = true
	p.cancel = cancel
	return true
}

// Cancel requests cooperative cancellation. Safe to call at any time: a
// cancel accepted before execution starts is remembered, and Run observes it
// instead of starting.
func (p *Process) Cancel() {
	p.mu.Lock()
	p.cancelled = true
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Cancelled reports whether cancellation has been requested.
func (p *Process) Cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// SetTerminal records the stream-ending event, once.
func (p *Process) SetTerminal(ev TerminalEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal == nil {
		p.terminal = &ev
	}
}

// Terminal returns the recorded terminal event, or nil.
func (p *Process) Terminal() *TerminalEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminal
}

// Registry tracks in-flight processes by correlation id.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]*Process
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*Process)}
}

// Register adds a process under its correlation id.
func (r *Registry) Register(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[p.Query.ProcessID] = p
}

// Get looks up a process.
func (r *Registry) Get(processID string) (*Process, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.procs[processID]
	return p, ok
}

// Remove drops a process from the registry.
func (r *Registry) Remove(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procs, processID)
}

// Len reports the number of tracked processes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.procs)
}
