// ABOUTME: Bounded-concurrency fan-out of chart intents to the chart service
// ABOUTME: Each call is isolated with its own timeout; failures settle as omitted results

package charts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Coordinator dispatches chart intents to the Renderer with two layers of
// admission control: a per-dispatch gate (default width 5) that bounds one
// turn's concurrency, and a cross-turn weighted semaphore that protects the
// shared external quota. One Coordinator is shared by all turns.
type Coordinator struct {
	renderer    Renderer
	callTimeout time.Duration
	gateWidth   int
	global      *semaphore.Weighted
	logger      *slog.Logger
}

// Options configures a Coordinator. Zero values select the defaults.
type Options struct {
	CallTimeout  time.Duration // per-call deadline, default 5s
	GateWidth    int           // per-turn concurrency bound, default 5
	GlobalBudget int64         // cross-turn concurrent call budget, default 25
}

// NewCoordinator creates a Coordinator around the given renderer.
// Pass nil logger for default.
func NewCoordinator(renderer Renderer, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 5 * time.Second
	}
	if opts.GateWidth <= 0 {
		opts.GateWidth = MaxChartsPerMessage
	}
	if opts.GlobalBudget <= 0 {
		opts.GlobalBudget = 25
	}
	return &Coordinator{
		renderer:    renderer,
		callTimeout: opts.CallTimeout,
		gateWidth:   opts.GateWidth,
		global:      semaphore.NewWeighted(opts.GlobalBudget),
		logger:      logger.With("component", "charts"),
	}
}

// Dispatch issues every intent concurrently (bounded by the gate and the
// global budget) and returns a channel of settled results. Each intent
// settles exactly once — ready, omitted, or rejected. The channel is closed
// once all intents have settled; the coordinator is done only then.
//
// Intents with ordinals at or beyond MaxChartsPerMessage settle immediately
// as rejected. ctx should be the turn context: cancelling it settles the
// outstanding calls as omitted.
func (c *Coordinator) Dispatch(ctx context.Context, intents []*Intent) <-chan Result {
	results := make(chan Result, len(intents))
	if len(intents) == 0 {
		close(results)
		return results
	}

	gate := make(chan struct{}, c.gateWidth)
	var wg sync.WaitGroup

	for _, intent := range intents {
		if intent.Ordinal >= MaxChartsPerMessage {
			results <- Result{
				Ordinal: intent.Ordinal,
				Kind:    intent.Kind,
				Outcome: OutcomeRejected,
				Reason:  fmt.Sprintf("%v (max %d)", ErrTooManyCharts, MaxChartsPerMessage),
			}
			c.logger.Warn("chart intent rejected",
				"ordinal", intent.Ordinal,
				"kind", intent.Kind)
			continue
		}

		wg.Add(1)
		go func(intent *Intent) {
			defer wg.Done()
			results <- c.render(ctx, gate, intent)
		}(intent)
	}

	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

// render runs one isolated chart call: admission, global budget, own
// timeout. A slow or failing call never escalates past an omitted result.
func (c *Coordinator) render(ctx context.Context, gate chan struct{}, intent *Intent) Result {
	omitted := func(reason string) Result {
		c.logger.Warn("chart omitted",
			"ordinal", intent.Ordinal,
			"kind", intent.Kind,
			"reason", reason)
		return Result{
			Ordinal: intent.Ordinal,
			Kind:    intent.Kind,
			Outcome: OutcomeOmitted,
			Reason:  reason,
		}
	}

	select {
	case gate <- struct{}{}:
		defer func() { <-gate }()
	case <-ctx.Done():
		return omitted("turn cancelled before chart dispatch")
	}

	if err := c.global.Acquire(ctx, 1); err != nil {
		return omitted("turn cancelled waiting for chart budget")
	}
	defer c.global.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	started := time.Now()
	config, err := c.renderer.Render(callCtx, intent)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return omitted(fmt.Sprintf("chart call timed out after %s", c.callTimeout))
		}
		return omitted(fmt.Sprintf("chart service error: %v", err))
	}

	c.logger.Debug("chart ready",
		"ordinal", intent.Ordinal,
		"kind", intent.Kind,
		"elapsed", time.Since(started))
	return Result{
		Ordinal: intent.Ordinal,
		Kind:    intent.Kind,
		Config:  config,
		Outcome: OutcomeReady,
	}
}
