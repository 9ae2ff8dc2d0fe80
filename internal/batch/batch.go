// Package batch drives a generate function over a list of items with
// bounded concurrency, per-item retry and progress reporting. A run never
// fails as a whole: each item ends Succeeded or Failed and the caller gets
// the tally.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"
)

// GenerateFunc performs one unit of work for item.
type GenerateFunc[T any] func(ctx context.Context, item T) error

// RefreshFunc lets the rest of the system pick up newly generated assets.
type RefreshFunc func(ctx context.Context) error

type Options struct {
	// Concurrency is the group size in batched mode.
	Concurrency int
	// MaxRetries bounds extra attempts per item in sequential mode.
	MaxRetries int
	// Backoff is the base wait; attempt n+1 waits Backoff * 2^(n-1).
	Backoff time.Duration
	// ItemDelay separates items in sequential mode.
	ItemDelay time.Duration
	// GroupDelay separates groups in batched mode.
	GroupDelay time.Duration
	Refresh    RefreshFunc
}

func DefaultOptions() Options {
	return Options{
		Concurrency: 3,
		MaxRetries:  2,
		Backoff:     time.Second,
		ItemDelay:   500 * time.Millisecond,
		GroupDelay:  time.Second,
	}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one step of a run. Progress events carry the item outcome;
// the Completed event carries the Summary and is always last.
type Event struct {
	Kind     EventKind
	Key      string
	Attempts int
	Err      error
	Done     int
	Total    int
	Percent  int
	Summary  Summary
}

type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	// Cancelled is set when the context ended before every item was attempted.
	Cancelled bool
}

type Runner[T any] struct {
	generate GenerateFunc[T]
	key      func(T) string
	opts     Options
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func New[T any](generate GenerateFunc[T], key func(T) string, opts Options, logger *slog.Logger) *Runner[T] {
	if opts.Concurrency < 1 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner[T]{
		generate: generate,
		key:      key,
		opts:     opts,
		logger:   logger.With("component", "batch"),
		sleep:    sleepContext,
	}
}

// Sequential processes items one at a time, retrying each failed item with
// exponential backoff. The returned channel is buffered for the whole run,
// so an abandoned reader never blocks the runner.
func (r *Runner[T]) Sequential(ctx context.Context, items []T) <-chan Event {
	out := make(chan Event, len(items)+2)
	go func() {
		defer close(out)
		t := newTracker(len(items), out)
		r.logger.Info("sequential batch started", "items", len(items), "max_retries", r.opts.MaxRetries)

		cancelled := false
		for i, item := range items {
			if i > 0 {
				if err := r.sleep(ctx, r.opts.ItemDelay); err != nil {
					cancelled = true
					break
				}
			}
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			attempts, err := r.attemptWithRetry(ctx, item)
			t.record(r.key(item), attempts, err)
		}

		r.finish(ctx, t, cancelled)
	}()
	return out
}

// Batched splits items into groups of Concurrency, runs each group's calls
// concurrently and waits for all of them to settle before pausing and moving
// to the next group. There are no retries in this mode.
func (r *Runner[T]) Batched(ctx context.Context, items []T) <-chan Event {
	out := make(chan Event, len(items)+2)
	go func() {
		defer close(out)
		t := newTracker(len(items), out)
		groups := Groups(items, r.opts.Concurrency)
		r.logger.Info("batched run started", "items", len(items), "groups", len(groups), "group_size", r.opts.Concurrency)

		cancelled := false
		for gi, group := range groups {
			if gi > 0 {
				if err := r.sleep(ctx, r.opts.GroupDelay); err != nil {
					cancelled = true
					break
				}
			}
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			r.runGroup(ctx, gi, group, t)
		}

		r.finish(ctx, t, cancelled)
	}()
	return out
}

type outcome struct {
	key string
	err error
}

func (r *Runner[T]) runGroup(ctx context.Context, index int, group []T, t *tracker) {
	// Goroutines never return an error: one failure must not cancel siblings.
	results := make(chan outcome, len(group))
	var g errgroup.Group
	for _, item := range group {
		g.Go(func() error {
			key := r.key(item)
			err := r.call(ctx, item)
			if err != nil {
				r.logger.Warn("generation failed",
					"item", key, "group", index, "kind", failureKind(err), "error", err)
			}
			results <- outcome{key: key, err: err}
			return nil
		})
	}

	// Completions are recorded here, on the orchestrating goroutine.
	for range group {
		res := <-results
		t.record(res.key, 1, res.err)
	}
	_ = g.Wait()
}

func (r *Runner[T]) attemptWithRetry(ctx context.Context, item T) (int, error) {
	key := r.key(item)
	maxAttempts := r.opts.MaxRetries + 1
	for attempt := 1; ; attempt++ {
		err := r.call(ctx, item)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("generation succeeded after retry", "item", key, "attempt", attempt)
			}
			return attempt, nil
		}

		willRetry := attempt < maxAttempts && ctx.Err() == nil
		r.logger.Warn("generation attempt failed",
			"item", key,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"kind", failureKind(err),
			"will_retry", willRetry,
			"error", err)
		if !willRetry {
			return attempt, err
		}

		wait := Backoff(r.opts.Backoff, attempt)
		r.logger.Debug("waiting before retry", "item", key, "duration", wait)
		if serr := r.sleep(ctx, wait); serr != nil {
			return attempt, err
		}
	}
}

// call runs the generate function, turning a panic into a failure.
func (r *Runner[T]) call(ctx context.Context, item T) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("generate panicked: %v", p)
		}
	}()
	return r.generate(ctx, item)
}

func (r *Runner[T]) finish(ctx context.Context, t *tracker, cancelled bool) {
	summary := t.summary(cancelled)

	if t.done > 0 {
		// Refresh must run even when the run was cut short.
		rctx := context.WithoutCancel(ctx)
		r.refresh(rctx)
		if summary.Failed == 0 && !cancelled {
			r.refresh(rctx)
		}
	}

	r.logger.Info("batch finished",
		"total", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"cancelled", summary.Cancelled)
	t.out <- Event{
		Kind:    EventCompleted,
		Done:    t.done,
		Total:   t.total,
		Percent: t.percent(),
		Summary: summary,
	}
}

func (r *Runner[T]) refresh(ctx context.Context) {
	if r.opts.Refresh == nil {
		return
	}
	if err := r.opts.Refresh(ctx); err != nil {
		r.logger.Error("state refresh failed", "error", err)
	}
}

// RunSequential drains Sequential, passing each event to observe (which may
// be nil), and returns the summary.
func (r *Runner[T]) RunSequential(ctx context.Context, items []T, observe func(Event)) Summary {
	return Drain(r.Sequential(ctx, items), observe)
}

func (r *Runner[T]) RunBatched(ctx context.Context, items []T, observe func(Event)) Summary {
	return Drain(r.Batched(ctx, items), observe)
}

// Drain consumes events until the channel closes and returns the summary
// from the Completed event.
func Drain(events <-chan Event, observe func(Event)) Summary {
	var summary Summary
	for ev := range events {
		if observe != nil {
			observe(ev)
		}
		if ev.Kind == EventCompleted {
			summary = ev.Summary
		}
	}
	return summary
}

// Groups partitions items into consecutive groups of size, keeping order.
func Groups[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultOptions().Concurrency
	}

	groups := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := min(i+size, len(items))
		groups = append(groups, items[i:end])
	}
	return groups
}

// Backoff is the wait after failed attempt n (1-based): base * 2^(n-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(1<<(attempt-1))
}

// Percent is round(done/total*100), held at 99 until every item is done.
// For runs of 200 or more items the last few completions therefore report 99
// rather than the rounded 100, so 100 is only ever seen once.
func Percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	p := int(math.Round(float64(done) / float64(total) * 100))
	if p >= 100 && done < total {
		return 99
	}
	return p
}

type tracker struct {
	total     int
	done      int
	succeeded int
	failed    int
	out       chan<- Event
}

func newTracker(total int, out chan<- Event) *tracker {
	t := &tracker{total: total, out: out}
	out <- Event{Kind: EventStarted, Total: total}
	return t
}

func (t *tracker) record(key string, attempts int, err error) {
	t.done++
	if err == nil {
		t.succeeded++
	} else {
		t.failed++
	}
	t.out <- Event{
		Kind:     EventProgress,
		Key:      key,
		Attempts: attempts,
		Err:      err,
		Done:     t.done,
		Total:    t.total,
		Percent:  t.percent(),
	}
}

func (t *tracker) percent() int {
	if t.done == 0 && t.total > 0 {
		return 0
	}
	return Percent(t.done, t.total)
}

func (t *tracker) summary(cancelled bool) Summary {
	return Summary{
		Total:     t.total,
		Succeeded: t.succeeded,
		Failed:    t.failed,
		Cancelled: cancelled,
	}
}

// failureKind names the failure class for logs. Errors may describe
// themselves by implementing FailureKind.
func failureKind(err error) string {
	var k interface{ FailureKind() string }
	switch {
	case errors.As(err, &k):
		return k.FailureKind()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
