package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coinkiri/coinsync/internal/auth"
	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
	"github.com/coinkiri/coinsync/internal/stream"
)

// InstrumentSource fetches the tradable-instrument inventory.
type InstrumentSource interface {
	GetInstruments(ctx context.Context) ([]model.Instrument, error)
}

// TickStream is one live tick subscription.
type TickStream interface {
	ID() string
	Ticks() <-chan model.Tick
	Err() error
	Close()
}

// TickSource opens tick subscriptions for a fixed code set.
type TickSource interface {
	Subscribe(ctx context.Context, codes []string) (TickStream, error)
}

// TickSink receives every folded tick, e.g. for durable recording.
// Record must not block the fold loop.
type TickSink interface {
	Record(tick model.Tick)
}

// QuoteSink receives the merged quote after every fold, e.g. for a cache
// mirror. Put must not block the fold loop.
type QuoteSink interface {
	Put(quote model.Quote)
}

// NewStreamSource adapts a stream.Subscriber to the TickSource interface.
func NewStreamSource(s *stream.Subscriber) TickSource {
	return subscriberSource{s: s}
}

type subscriberSource struct {
	s *stream.Subscriber
}

func (ss subscriberSource) Subscribe(ctx context.Context, codes []string) (TickStream, error) {
	sub, err := ss.s.Subscribe(ctx, codes)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// EngineConfig holds sync engine settings.
type EngineConfig struct {
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  time.Minute,
	}
}

// EngineOption configures optional engine behavior.
type EngineOption func(*Engine)

// WithRecorder attaches a sink that receives every folded tick.
func WithRecorder(sink TickSink) EngineOption {
	return func(e *Engine) {
		e.recorder = sink
	}
}

// WithCache attaches a sink that mirrors the merged quote after every fold.
func WithCache(sink QuoteSink) EngineOption {
	return func(e *Engine) {
		e.cache = sink
	}
}

// WithMetrics attaches engine metrics.
func WithMetrics(met *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = met
	}
}

// Engine drives the full synchronization lifecycle: snapshot fetch, book
// seeding, and the streaming fold loop with automatic resubscription.
//
// The instrument set is fixed at Start; stream reconnects reuse the seeded
// book and never refetch the snapshot.
type Engine struct {
	cfg       EngineConfig
	inventory InstrumentSource
	source    TickSource
	merger    *Merger
	logger    *slog.Logger
	metrics   *metrics.Metrics

	recorder TickSink
	cache    QuoteSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewEngine creates a sync engine.
func NewEngine(cfg EngineConfig, inventory InstrumentSource, source TickSource, merger *Merger, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = DefaultEngineConfig().ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = DefaultEngineConfig().ReconnectMaxDelay
	}

	e := &Engine{
		cfg:       cfg,
		inventory: inventory,
		source:    source,
		merger:    merger,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start fetches the inventory snapshot, seeds the book, and launches the
// streaming fold loop in the background. The snapshot fetch is blocking; a
// failure there means the engine never started.
func (e *Engine) Start(ctx context.Context) error {
	start := time.Now()

	instruments, err := e.inventory.GetInstruments(ctx)
	if err != nil {
		return fmt.Errorf("fetch instrument snapshot: %w", err)
	}
	if err := e.merger.Seed(instruments); err != nil {
		return err
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.streamLoop(e.ctx)
	}()

	e.logger.Info("sync engine started",
		"instruments", e.merger.Latest().Len(),
		"duration", time.Since(start),
	)

	return nil
}

// Stop shuts the fold loop down and waits for it to drain.
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("sync engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the terminal engine error, if the fold loop gave up.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// streamLoop subscribes, folds ticks, and resubscribes with exponential
// backoff until the context is canceled or the session expires.
func (e *Engine) streamLoop(ctx context.Context) {
	codes := e.merger.Latest().Codes()
	delay := e.cfg.ReconnectBaseDelay

	for {
		if ctx.Err() != nil {
			return
		}

		sub, err := e.source.Subscribe(ctx, codes)
		if err != nil {
			if errors.Is(err, auth.ErrSessionExpired) {
				e.fail(err)
				return
			}
			if ctx.Err() != nil {
				return
			}

			e.logger.Warn("subscribe failed, backing off",
				"error", err,
				"delay", delay,
			)
			if !e.sleep(ctx, delay) {
				return
			}
			delay = e.nextDelay(delay)
			if e.metrics != nil {
				e.metrics.StreamReconnects.Inc()
			}
			continue
		}

		delay = e.cfg.ReconnectBaseDelay
		e.pump(ctx, sub)

		if ctx.Err() != nil {
			return
		}

		e.logger.Warn("stream ended, resubscribing",
			"session_id", sub.ID(),
			"error", sub.Err(),
		)
		if e.metrics != nil {
			e.metrics.StreamReconnects.Inc()
		}
		if !e.sleep(ctx, delay) {
			return
		}
		delay = e.nextDelay(delay)
	}
}

// pump folds one subscription's ticks until it terminates or the context
// is canceled.
func (e *Engine) pump(ctx context.Context, sub TickStream) {
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case tick, ok := <-sub.Ticks():
			if !ok {
				return
			}

			quote, folded := e.merger.Fold(tick)
			if !folded {
				continue
			}
			if e.recorder != nil {
				e.recorder.Record(tick)
			}
			if e.cache != nil {
				e.cache.Put(quote)
			}
		}
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()

	e.logger.Error("session expired, stream loop stopped", "error", err)
}

// sleep waits for the delay unless the context is canceled first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Engine) nextDelay(d time.Duration) time.Duration {
	d *= 2
	if d > e.cfg.ReconnectMaxDelay {
		d = e.cfg.ReconnectMaxDelay
	}
	return d
}
