package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

// Config holds quote mirror settings.
type Config struct {
	Addr       string
	DB         int
	TTL        time.Duration
	BufferSize int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:       "localhost:6379",
		TTL:        5 * time.Minute,
		BufferSize: 1024,
	}
}

// entry is the cached representation of one merged quote.
type entry struct {
	Instrument model.Instrument `json:"instrument"`
	Tick       *model.Tick      `json:"tick,omitempty"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

// Mirror keeps the latest merged quote per instrument in Redis.
//
// Put never blocks the fold loop: a full buffer drops the update and counts
// the drop. The mirror is best-effort; the in-memory book stays the source
// of truth.
type Mirror struct {
	cfg    Config
	client *redis.Client
	logger *slog.Logger

	input   chan model.Quote
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a quote mirror backed by the given Redis instance.
func New(cfg Config, logger *slog.Logger, met *metrics.Metrics) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &Mirror{
		cfg: cfg,
		client: redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
			DB:   cfg.DB,
		}),
		logger:  logger,
		metrics: met,
		input:   make(chan model.Quote, cfg.BufferSize),
	}
}

// Start verifies connectivity and launches the write worker.
func (m *Mirror) Start(ctx context.Context) error {
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.writeLoop()

	m.logger.Info("quote mirror started", "addr", m.cfg.Addr, "ttl", m.cfg.TTL)
	return nil
}

// Stop shuts the worker down and closes the connection.
func (m *Mirror) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("quote mirror stop timed out")
	}

	return m.client.Close()
}

// Put enqueues one merged quote for mirroring (non-blocking).
func (m *Mirror) Put(quote model.Quote) {
	select {
	case m.input <- quote:
	default:
		if m.metrics != nil {
			m.metrics.CacheDrops.Inc()
		}
		m.logger.Warn("cache buffer full, dropping quote", "code", quote.Instrument.Code)
	}
}

// GetQuote reads a mirrored quote back, or nil when the key is absent.
func (m *Mirror) GetQuote(ctx context.Context, code string) (*model.Quote, error) {
	data, err := m.client.Get(ctx, quoteKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quote %s: %w", code, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode quote %s: %w", code, err)
	}

	return &model.Quote{Instrument: e.Instrument, Tick: e.Tick}, nil
}

// writeLoop drains the input buffer into Redis.
func (m *Mirror) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case quote := <-m.input:
			m.write(quote)
		}
	}
}

func (m *Mirror) write(quote model.Quote) {
	data, err := json.Marshal(entry{
		Instrument: quote.Instrument,
		Tick:       quote.Tick,
		UpdatedAt:  time.Now(),
	})
	if err != nil {
		m.logger.Error("marshal quote failed", "code", quote.Instrument.Code, "error", err)
		return
	}

	if err := m.client.Set(m.ctx, quoteKey(quote.Instrument.Code), data, m.cfg.TTL).Err(); err != nil {
		m.logger.Warn("mirror write failed", "code", quote.Instrument.Code, "error", err)
	}
}

// quoteKey returns the Redis key for an instrument code.
func quoteKey(code string) string {
	return fmt.Sprintf("quotes:%s", code)
}
