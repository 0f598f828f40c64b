package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

// Config holds tick recorder settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     1000,
		FlushInterval: 5 * time.Second,
		BufferSize:    4096,
	}
}

// Stats tracks recorder progress.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Recorder persists folded ticks to the ticks table in batches.
//
// Record never blocks the fold loop: a full input buffer drops the tick
// and counts the drop.
type Recorder struct {
	cfg    Config
	logger *slog.Logger

	// Input from the fold loop
	input chan model.Tick

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []tickRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats   Stats
	metrics *metrics.Metrics
}

// tickRow is the database representation of one tick.
type tickRow struct {
	Code              string
	TradePrice        float64
	SignedChangeRate  float64
	SignedChangePrice float64
	HighPrice         float64
	LowPrice          float64
	ReceivedAt        int64 // Unix microseconds
}

// New creates a tick recorder.
func New(cfg Config, db *pgxpool.Pool, logger *slog.Logger, met *metrics.Metrics) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &Recorder{
		cfg:     cfg,
		db:      db,
		logger:  logger,
		metrics: met,
		input:   make(chan model.Tick, cfg.BufferSize),
		batch:   make([]tickRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming ticks and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.flushTicker = time.NewTicker(r.cfg.FlushInterval)

	r.wg.Add(1)
	go r.consumeLoop()

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("tick recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the recorder.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping tick recorder")

	if r.cancel != nil {
		r.cancel()
	}

	if r.flushTicker != nil {
		r.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("tick recorder stopped")
	case <-ctx.Done():
		r.logger.Warn("tick recorder stop timed out")
	}

	// Final flush
	r.flush()

	return nil
}

// Record enqueues one tick for persistence (non-blocking).
func (r *Recorder) Record(tick model.Tick) {
	select {
	case r.input <- tick:
	default:
		if r.metrics != nil {
			r.metrics.RecorderDrops.Inc()
		}
		r.logger.Warn("recorder buffer full, dropping tick", "code", tick.Code)
	}
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.batchMu.Lock()
	defer r.batchMu.Unlock()
	return r.stats
}

// consumeLoop reads from the input buffer and accumulates batches.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case tick := <-r.input:
			r.handleTick(tick)
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.flushTicker.C:
			r.flush()
		}
	}
}

// handleTick transforms and adds a tick to the batch.
func (r *Recorder) handleTick(tick model.Tick) {
	row := transform(tick)

	r.batchMu.Lock()
	r.batch = append(r.batch, row)
	shouldFlush := len(r.batch) >= r.cfg.BatchSize
	r.batchMu.Unlock()

	if shouldFlush {
		r.flush()
	}
}

// transform converts a tick to its row representation.
func transform(tick model.Tick) tickRow {
	return tickRow{
		Code:              tick.Code,
		TradePrice:        tick.TradePrice,
		SignedChangeRate:  tick.SignedChangeRate,
		SignedChangePrice: tick.SignedChangePrice,
		HighPrice:         tick.HighPrice,
		LowPrice:          tick.LowPrice,
		ReceivedAt:        tick.ReceivedAt.UnixMicro(),
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush() {
	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := r.batch
	r.batch = make([]tickRow, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	conflicts, err := r.batchInsert(batch)
	if err != nil {
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		r.batchMu.Lock()
		r.stats.Errors++
		r.batchMu.Unlock()
		return
	}

	r.batchMu.Lock()
	r.stats.Inserts += int64(len(batch) - conflicts)
	r.stats.Conflicts += int64(conflicts)
	r.stats.Flushes++
	r.batchMu.Unlock()

	r.logger.Debug("flushed ticks",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(rows []tickRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO ticks (code, trade_price, signed_change_rate, signed_change_price, high_price, low_price, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (code, received_at) DO NOTHING
		`, row.Code, row.TradePrice, row.SignedChangeRate, row.SignedChangePrice, row.HighPrice, row.LowPrice, row.ReceivedAt)
	}

	// The final flush runs after shutdown, when r.ctx is already canceled.
	ctx := r.ctx
	if ctx == nil || ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
