package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Worker defaults.
const (
	DefaultInterval     = 2 * time.Second
	DefaultRetryBackoff = time.Second
	ErrorReportRetries  = 2
)

// EmptyResponse is reported when the executor answers with no text.
const EmptyResponse = "[Error] empty response from executor"

// Hub is the hub side of the relay protocol.
type Hub interface {
	Poll(ctx context.Context) ([]Item, error)
	Respond(ctx context.Context, queueItemID, content string) error
}

// Runner produces an answer for a queued message.
type Runner interface {
	Execute(ctx context.Context, item Item) (string, error)
}

// Worker is the relay loop: poll, execute each item in order, respond.
type Worker struct {
	hub      Hub
	runner   Runner
	interval time.Duration
	backoff  time.Duration
	log      zerolog.Logger
}

// WorkerOpts holds parameters for creating a Worker.
type WorkerOpts struct {
	Hub          Hub
	Runner       Runner
	Interval     time.Duration // defaults to DefaultInterval
	RetryBackoff time.Duration // defaults to DefaultRetryBackoff
	Logger       zerolog.Logger
}

// NewWorker creates a Worker.
func NewWorker(opts WorkerOpts) (*Worker, error) {
	if opts.Hub == nil {
		return nil, fmt.Errorf("relay: hub is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("relay: runner is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	return &Worker{hub: opts.Hub, runner: opts.Runner, interval: interval, backoff: backoff, log: opts.Logger}, nil
}

// Run polls until ctx is cancelled. It returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		w.Cycle(ctx)
		sleepWithContext(ctx, w.interval)
	}
	return nil
}

// Cycle performs one poll and handles every item it returned.
func (w *Worker) Cycle(ctx context.Context) {
	items, err := w.hub.Poll(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("poll failed")
		}
		return
	}
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, item)
	}
}

func (w *Worker) handle(ctx context.Context, item Item) {
	log := w.log.With().Str("queue_item", item.QueueItemID).Logger()
	log.Info().Str("message", preview(item.Message)).Msg("received message")

	answer, err := w.runner.Execute(ctx, item)
	if ctx.Err() != nil {
		log.Info().Msg("shutting down, abandoning item")
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("executor failed")
		w.reportError(ctx, log, item.QueueItemID, errorReport(err))
		return
	}
	if answer == "" {
		log.Warn().Msg("executor returned no text")
		w.reportError(ctx, log, item.QueueItemID, EmptyResponse)
		return
	}
	if err := w.hub.Respond(ctx, item.QueueItemID, answer); err != nil {
		log.Error().Err(err).Msg("failed to send response")
		var se *StatusError
		if ctx.Err() != nil || (errors.As(err, &se) && se.ClientError()) {
			return
		}
		w.reportError(ctx, log, item.QueueItemID, "[Error] "+err.Error())
		return
	}
	log.Info().Int("chars", len(answer)).Msg("response sent")
}

// reportError sends an error report, retrying transient failures. A 4xx
// from the hub means the item can no longer be answered.
func (w *Worker) reportError(ctx context.Context, log zerolog.Logger, queueItemID, content string) {
	for attempt := 0; attempt <= ErrorReportRetries; attempt++ {
		if attempt > 0 {
			sleepWithContext(ctx, w.backoff*time.Duration(attempt))
		}
		if ctx.Err() != nil {
			return
		}
		err := w.hub.Respond(ctx, queueItemID, content)
		if err == nil {
			return
		}
		log.Error().Err(err).Int("attempt", attempt+1).Msg("failed to report error")
		var se *StatusError
		if errors.As(err, &se) && se.ClientError() {
			return
		}
	}
}

func errorReport(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf("[Error] %d: %s", se.Code, se.Body)
	}
	return "[Error] " + err.Error()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return s
}

// sleepWithContext sleeps for duration d, returning early if ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
