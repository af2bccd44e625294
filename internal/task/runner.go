package task

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/spidercast/spidercast/internal/envelope"
	"github.com/spidercast/spidercast/internal/extract"
	"github.com/spidercast/spidercast/internal/fetch"
	"github.com/spidercast/spidercast/internal/metrics"
	"github.com/spidercast/spidercast/internal/ratelimit"
)

// Runner drives one task through pending -> running -> terminal. Exactly one
// "started" status precedes any progress or result envelope, and exactly one
// terminal status (done, stopped or error) follows everything else.
type Runner struct {
	params  Params
	flag    *Flag
	fetcher Fetcher
	bc      Broadcaster
	logger  *zap.Logger
}

// NewRunner constructs a Runner. flag is the cancellation token registered
// for this task id; the runner only reads it.
func NewRunner(params Params, flag *Flag, fetcher Fetcher, bc Broadcaster, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		params:  params.withDefaults(),
		flag:    flag,
		fetcher: fetcher,
		bc:      bc,
		logger:  logger.With(zap.String("task_id", params.TaskID)),
	}
}

// Run executes the task and blocks until its terminal status is broadcast.
// Per-page and per-link failures are contained; only setup failures turn the
// whole task into an error.
func (r *Runner) Run(ctx context.Context) {
	metrics.IncActiveTasks()
	defer metrics.DecActiveTasks()

	extractor, err := r.setup()
	if err != nil {
		r.logger.Error("task setup failed", zap.Error(err))
		r.status(ctx, envelope.StatusError, err.Error())
		metrics.ObserveTask(envelope.StatusError)
		return
	}

	r.logger.Info("task started",
		zap.Strings("keywords", r.params.Keywords),
		zap.Int("pages", r.params.TotalPages),
		zap.String("engine", string(r.params.Engine)),
	)
	r.status(ctx, envelope.StatusStarted, "")
	r.progress(ctx, 0)

	limiter := ratelimit.New(r.params.RatePerSec)
	sem := make(chan struct{}, r.params.Concurrency)
	var wg sync.WaitGroup
	for pageNo := 1; pageNo <= r.params.TotalPages; pageNo++ {
		// Cancellation checkpoint: no new page is launched once the
		// flag is set; in-flight pages drain on their own.
		if r.flag.IsSet() {
			break
		}
		wg.Add(1)
		go func(pageNo int) {
			defer wg.Done()
			r.crawlPage(ctx, extractor, limiter, sem, pageNo)
		}(pageNo)
	}
	wg.Wait()

	if r.flag.IsSet() {
		r.logger.Info("task stopped")
		r.status(ctx, envelope.StatusStopped, "")
		metrics.ObserveTask(envelope.StatusStopped)
		return
	}
	r.logger.Info("task done")
	r.status(ctx, envelope.StatusDone, "")
	metrics.ObserveTask(envelope.StatusDone)
}

func (r *Runner) setup() (extract.Extractor, error) {
	if r.fetcher == nil {
		return nil, errors.New("no fetcher configured")
	}
	if len(r.params.Keywords) == 0 {
		return nil, errors.New("keywords required")
	}
	return extract.ForEngine(r.params.Engine)
}

func (r *Runner) crawlPage(
	ctx context.Context,
	extractor extract.Extractor,
	limiter *ratelimit.Limiter,
	sem chan struct{},
	pageNo int,
) {
	if r.flag.IsSet() {
		return
	}
	sem <- struct{}{}
	defer func() { <-sem }()
	// Re-check after the semaphore wait: cancellation may have been
	// requested while this page was queued behind in-flight ones.
	if r.flag.IsSet() {
		return
	}

	if err := limiter.Wait(ctx); err != nil {
		return
	}

	engine := string(r.params.Engine)
	pageURL := BuildSearchURL(r.params.Keywords, pageNo, r.params.Engine)
	html, err := r.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) {
			// The page is skipped but the consumer's page counter
			// still advances.
			r.logger.Warn("page returned http error",
				zap.Int("page", pageNo),
				zap.Int("status", statusErr.Code),
			)
			metrics.ObservePage(engine, metrics.PageHTTPError)
			r.progress(ctx, pageNo)
			return
		}
		r.logger.Warn("page fetch failed", zap.Int("page", pageNo), zap.Error(err))
		metrics.ObservePage(engine, metrics.PageTransportError)
		return
	}

	links, err := extractor.Extract(html)
	if err != nil {
		r.logger.Warn("page extraction failed", zap.Int("page", pageNo), zap.Error(err))
		links = nil
	}
	metrics.ObservePage(engine, metrics.PageOK)
	metrics.ObserveResults(engine, len(links))
	r.logger.Debug("page extracted", zap.Int("page", pageNo), zap.Int("links", len(links)))

	for _, link := range links {
		if r.flag.IsSet() {
			break
		}
		payload := envelope.NewResult(r.params.TaskID, r.params.Keywords, link.Href, link.Title, link.Source, "")
		if err := r.bc.Result(ctx, r.params.TaskID, payload); err != nil {
			r.logger.Warn("result broadcast failed", zap.Int("page", pageNo), zap.Error(err))
		}
	}
	r.progress(ctx, pageNo)
}

func (r *Runner) status(ctx context.Context, status, errText string) {
	if err := r.bc.Status(ctx, r.params.TaskID, status, errText); err != nil {
		r.logger.Warn("status broadcast failed", zap.String("status", status), zap.Error(err))
	}
}

func (r *Runner) progress(ctx context.Context, current int) {
	if err := r.bc.Progress(ctx, r.params.TaskID, current, r.params.TotalPages); err != nil {
		r.logger.Warn("progress broadcast failed", zap.Int("page", current), zap.Error(err))
	}
}
