package market

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

// UpdateBufferSize is the capacity of the book update channel.
const UpdateBufferSize = 256

// ErrAlreadySeeded is returned when Seed is called on a seeded merger.
var ErrAlreadySeeded = errors.New("market: book already seeded")

// Merger folds the tick stream into an immutable market book.
//
// Exactly one goroutine calls Seed and Fold; any number of goroutines may
// call Latest or consume Updates concurrently. Each fold publishes a fresh
// Book, so a reader holding a snapshot is never affected by later ticks.
type Merger struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	book    atomic.Pointer[model.Book]
	updates chan *model.Book
}

// NewMerger creates an unseeded Merger.
func NewMerger(logger *slog.Logger, met *metrics.Metrics) *Merger {
	if logger == nil {
		logger = slog.Default()
	}

	return &Merger{
		logger:  logger,
		metrics: met,
		updates: make(chan *model.Book, UpdateBufferSize),
	}
}

// Seed installs the initial book built from the inventory snapshot.
// Seeding happens exactly once per merger; the instrument set is fixed
// afterwards.
func (m *Merger) Seed(instruments []model.Instrument) error {
	if m.book.Load() != nil {
		return ErrAlreadySeeded
	}

	book := model.NewBook(instruments)
	m.book.Store(book)
	m.notify(book)

	if m.metrics != nil {
		m.metrics.BookSize.Set(float64(book.Len()))
	}
	m.logger.Info("market book seeded", "instruments", book.Len())

	return nil
}

// Fold merges one tick into the book and publishes the new snapshot.
// Ticks arriving before Seed or carrying a code outside the seeded set are
// dropped, never folded partially. Returns the merged quote when folded.
func (m *Merger) Fold(tick model.Tick) (model.Quote, bool) {
	book := m.book.Load()
	if book == nil {
		m.drop("tick before seed", tick.Code)
		return model.Quote{}, false
	}

	next, ok := book.WithTick(tick)
	if !ok {
		m.drop("tick for unknown instrument", tick.Code)
		return model.Quote{}, false
	}

	m.book.Store(next)
	m.notify(next)

	if m.metrics != nil {
		m.metrics.TicksFolded.Inc()
	}

	quote, _ := next.Quote(tick.Code)
	return quote, true
}

// Run folds ticks from the channel until it closes or the context ends.
// It serializes all folds on the calling goroutine.
func (m *Merger) Run(ctx context.Context, ticks <-chan model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			m.Fold(tick)
		}
	}
}

// Latest returns the current book snapshot, or nil before Seed.
func (m *Merger) Latest() *model.Book {
	return m.book.Load()
}

// Updates returns a channel of published book snapshots. Slow consumers
// lose intermediate snapshots, never the most recent one.
func (m *Merger) Updates() <-chan *model.Book {
	return m.updates
}

// notify sends a snapshot to the updates channel (non-blocking).
func (m *Merger) notify(book *model.Book) {
	select {
	case m.updates <- book:
	default:
		// Channel full, drop oldest by consuming one and retrying.
		select {
		case <-m.updates:
			m.updates <- book
		default:
		}
	}
}

func (m *Merger) drop(reason, code string) {
	if m.metrics != nil {
		m.metrics.TicksDropped.Inc()
	}
	m.logger.Debug("dropping tick", "reason", reason, "code", code)
}
