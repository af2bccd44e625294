// Package task executes one crawl task: it fans out rate-limited page
// fetches under a concurrency bound, extracts result links, and broadcasts
// status, progress and result envelopes until it reaches exactly one
// terminal status.
package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/spidercast/spidercast/internal/envelope"
	"github.com/spidercast/spidercast/internal/extract"
)

// Default knobs applied when a start command omits them.
const (
	DefaultConcurrency = 5
	DefaultRatePerSec  = 2
	DefaultTotalPages  = 1
)

// Params configures one task run.
type Params struct {
	TaskID      string
	Keywords    []string
	TotalPages  int
	Engine      extract.Engine
	Concurrency int
	RatePerSec  float64
}

func (p Params) withDefaults() Params {
	if p.TotalPages <= 0 {
		p.TotalPages = DefaultTotalPages
	}
	if p.Concurrency <= 0 {
		p.Concurrency = DefaultConcurrency
	}
	if p.RatePerSec <= 0 {
		p.RatePerSec = DefaultRatePerSec
	}
	if p.Engine == "" {
		p.Engine = extract.EngineBing
	}
	return p
}

// Flag is a one-way cancellation token. The command loop sets it; every page
// worker of the task observes it at its next checkpoint.
type Flag struct {
	set atomic.Bool
}

// NewFlag returns an unset Flag.
func NewFlag() *Flag {
	return &Flag{}
}

// Set requests cancellation. Idempotent.
func (f *Flag) Set() {
	f.set.Store(true)
}

// IsSet reports whether cancellation has been requested.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// ErrDuplicateTask reports a start for a task id that is already running.
var ErrDuplicateTask = errors.New("task already running")

// Registry tracks the cancellation flag of every live task run, keyed by
// task id. At most one live run may exist per id.
type Registry struct {
	mu    sync.Mutex
	flags map[string]*Flag
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]*Flag)}
}

// Add creates the run state for taskID and returns its cancellation flag.
// A second Add for a live id returns ErrDuplicateTask so the original run
// stays stoppable.
func (r *Registry) Add(taskID string) (*Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.flags[taskID]; exists {
		return nil, ErrDuplicateTask
	}
	flag := NewFlag()
	r.flags[taskID] = flag
	return flag, nil
}

// Stop sets the cancellation flag for taskID, reporting whether a live run
// existed. Stopping an unknown id is a no-op.
func (r *Registry) Stop(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag, ok := r.flags[taskID]
	if ok {
		flag.Set()
	}
	return ok
}

// Get returns the cancellation flag for taskID, if a live run exists.
func (r *Registry) Get(taskID string) (*Flag, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	flag, ok := r.flags[taskID]
	return flag, ok
}

// Remove deletes the run state once its runner has terminated.
func (r *Registry) Remove(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, taskID)
}

// Len returns the number of live runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flags)
}

// Broadcaster is the envelope publishing surface the runner needs.
type Broadcaster interface {
	Status(ctx context.Context, taskID, status, errText string) error
	Progress(ctx context.Context, taskID string, current, total int) error
	Result(ctx context.Context, taskID string, payload envelope.ResultPayload) error
}

// Fetcher retrieves one result page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}
