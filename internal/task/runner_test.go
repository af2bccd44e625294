package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spidercast/spidercast/internal/envelope"
	"github.com/spidercast/spidercast/internal/extract"
	"github.com/spidercast/spidercast/internal/fetch"
)

// event records one broadcast call in arrival order.
type event struct {
	typ     envelope.MessageType
	status  string
	current int
	result  envelope.ResultPayload
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []event
}

func (b *recordingBroadcaster) Status(_ context.Context, _ string, status, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{typ: envelope.TypeStatus, status: status})
	return nil
}

func (b *recordingBroadcaster) Progress(_ context.Context, _ string, current, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{typ: envelope.TypeProgress, current: current})
	return nil
}

func (b *recordingBroadcaster) Result(_ context.Context, _ string, payload envelope.ResultPayload) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event{typ: envelope.TypeResult, result: payload})
	return nil
}

func (b *recordingBroadcaster) snapshot() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event(nil), b.events...)
}

func (b *recordingBroadcaster) count(typ envelope.MessageType) int {
	n := 0
	for _, e := range b.snapshot() {
		if e.typ == typ {
			n++
		}
	}
	return n
}

func (b *recordingBroadcaster) statuses() []string {
	var out []string
	for _, e := range b.snapshot() {
		if e.typ == envelope.TypeStatus {
			out = append(out, e.status)
		}
	}
	return out
}

const twoLinkPage = `<ol>
	<li class="b_algo"><h2><a href="https://example.com/a">Link A</a></h2><div class="tptt">A</div></li>
	<li class="b_algo"><h2><a href="https://example.com/b">Link B</a></h2></li>
</ol>`

// fakeFetcher serves canned HTML and tracks call timing and concurrency.
type fakeFetcher struct {
	mu        sync.Mutex
	starts    []time.Time
	inflight  atomic.Int64
	maxSeen   atomic.Int64
	delay     time.Duration
	errForURL func(url string) error
	started   chan struct{} // closed-ish signal: one tick per fetch start
	gate      chan struct{} // when non-nil, fetches block until it closes
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if cur <= seen || f.maxSeen.CompareAndSwap(seen, cur) {
			break
		}
	}

	f.mu.Lock()
	f.starts = append(f.starts, time.Now())
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.errForURL != nil {
		if err := f.errForURL(url); err != nil {
			return "", err
		}
	}
	return twoLinkPage, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func runTask(t *testing.T, params Params, fetcher Fetcher) (*recordingBroadcaster, *Flag) {
	t.Helper()
	bc := &recordingBroadcaster{}
	flag := NewFlag()
	NewRunner(params, flag, fetcher, bc, nil).Run(context.Background())
	return bc, flag
}

func TestRunnerCompletesTask(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	bc, _ := runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  3,
		Concurrency: 2,
		RatePerSec:  1000,
	}, fetcher)

	events := bc.snapshot()
	require.NotEmpty(t, events)

	// started precedes every progress and result envelope.
	assert.Equal(t, envelope.TypeStatus, events[0].typ)
	assert.Equal(t, envelope.StatusStarted, events[0].status)
	assert.Equal(t, envelope.TypeProgress, events[1].typ)
	assert.Equal(t, 0, events[1].current)

	// done is the last envelope, after all page progress.
	last := events[len(events)-1]
	assert.Equal(t, envelope.TypeStatus, last.typ)
	assert.Equal(t, envelope.StatusDone, last.status)

	assert.Equal(t, []string{envelope.StatusStarted, envelope.StatusDone}, bc.statuses())
	assert.Equal(t, 4, bc.count(envelope.TypeProgress), "initial snapshot plus one per page")
	assert.Equal(t, 6, bc.count(envelope.TypeResult), "two links per page")
	assert.Equal(t, 3, fetcher.fetchCount())
}

func TestRunnerResultKeywordsNormalized(t *testing.T) {
	t.Parallel()

	bc, _ := runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"电影", "排名"},
		TotalPages:  1,
		Concurrency: 1,
		RatePerSec:  1000,
	}, &fakeFetcher{})

	for _, e := range bc.snapshot() {
		if e.typ == envelope.TypeResult {
			assert.Equal(t, []string{"电影", "排名"}, e.result.Keywords)
			assert.True(t, strings.HasPrefix(e.result.URL, "https://example.com/"))
		}
	}
}

func TestRunnerCancellationStopsNewPages(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		started: make(chan struct{}, 8),
		gate:    make(chan struct{}),
	}
	bc := &recordingBroadcaster{}
	flag := NewFlag()
	runner := NewRunner(Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  5,
		Concurrency: 1,
		RatePerSec:  1000,
	}, flag, fetcher, bc, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(context.Background())
	}()

	// Wait for the first page fetch to be in flight, then cancel and let
	// it finish.
	<-fetcher.started
	flag.Set()
	close(fetcher.gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not terminate")
	}

	assert.Equal(t, 1, fetcher.fetchCount(), "no new page launched after cancellation")
	assert.Equal(t, []string{envelope.StatusStarted, envelope.StatusStopped}, bc.statuses())
}

func TestRunnerHTTPErrorStillAdvancesProgress(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		errForURL: func(url string) error {
			if strings.Contains(url, "first=11") { // page 2
				return &fetch.StatusError{Code: 503}
			}
			return nil
		},
	}
	bc, _ := runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  3,
		Concurrency: 1,
		RatePerSec:  1000,
	}, fetcher)

	assert.Equal(t, []string{envelope.StatusStarted, envelope.StatusDone}, bc.statuses())
	assert.Equal(t, 4, bc.count(envelope.TypeProgress), "failed page still advances progress")
	assert.Equal(t, 4, bc.count(envelope.TypeResult), "only the two good pages yield links")
}

func TestRunnerTransportErrorSkipsPage(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		errForURL: func(url string) error {
			if strings.Contains(url, "first=11") { // page 2
				return fmt.Errorf("%w: %w", fetch.ErrRetriesExhausted, errors.New("connection reset"))
			}
			return nil
		},
	}
	bc, _ := runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  3,
		Concurrency: 1,
		RatePerSec:  1000,
	}, fetcher)

	// The exhausted page is skipped without a progress envelope; the task
	// still completes.
	assert.Equal(t, []string{envelope.StatusStarted, envelope.StatusDone}, bc.statuses())
	assert.Equal(t, 3, bc.count(envelope.TypeProgress))
	assert.Equal(t, 4, bc.count(envelope.TypeResult))
}

func TestRunnerSetupFailureBroadcastsError(t *testing.T) {
	t.Parallel()

	bc, _ := runTask(t, Params{
		TaskID:     "t1",
		Keywords:   nil, // invalid
		TotalPages: 2,
	}, &fakeFetcher{})

	statuses := bc.statuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, envelope.StatusError, statuses[0])
	assert.Zero(t, bc.count(envelope.TypeProgress))
	assert.Zero(t, bc.count(envelope.TypeResult))
}

func TestRunnerUnknownEngineBroadcastsError(t *testing.T) {
	t.Parallel()

	bc, _ := runTask(t, Params{
		TaskID:   "t1",
		Keywords: []string{"golang"},
		Engine:   extract.Engine("altavista"),
	}, &fakeFetcher{})

	assert.Equal(t, []string{envelope.StatusError}, bc.statuses())
}

func TestRunnerConcurrencyBound(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{delay: 20 * time.Millisecond}
	_, _ = runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  6,
		Concurrency: 2,
		RatePerSec:  1000,
	}, fetcher)

	assert.LessOrEqual(t, fetcher.maxSeen.Load(), int64(2), "semaphore must bound in-flight fetches")
	assert.Equal(t, 6, fetcher.fetchCount())
}

func TestRunnerRateLimitSpacesFetches(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	_, _ = runTask(t, Params{
		TaskID:      "t1",
		Keywords:    []string{"golang"},
		TotalPages:  3,
		Concurrency: 2,
		RatePerSec:  10, // 100ms minimum spacing
	}, fetcher)

	fetcher.mu.Lock()
	starts := append([]time.Time(nil), fetcher.starts...)
	fetcher.mu.Unlock()
	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 80*time.Millisecond)
	}
}
