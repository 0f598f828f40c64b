package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coinkiri/coinsync/internal/auth"
	"github.com/coinkiri/coinsync/internal/model"
)

type fakeInventory struct {
	calls       atomic.Int64
	instruments []model.Instrument
	err         error
}

func (f *fakeInventory) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	f.calls.Add(1)
	return f.instruments, f.err
}

type fakeStream struct {
	id    string
	ticks chan model.Tick

	mu  sync.Mutex
	err error
}

func newFakeStream(id string) *fakeStream {
	return &fakeStream{id: id, ticks: make(chan model.Tick, 16)}
}

func (f *fakeStream) ID() string               { return f.id }
func (f *fakeStream) Ticks() <-chan model.Tick { return f.ticks }
func (f *fakeStream) Close()                   {}

func (f *fakeStream) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// fail terminates the stream with an error, like a dropped connection.
func (f *fakeStream) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.ticks)
}

type subscribeResult struct {
	stream *fakeStream
	err    error
}

// fakeSource hands out a scripted sequence of subscriptions. Once the
// script is exhausted it blocks until the caller's context ends.
type fakeSource struct {
	calls atomic.Int64

	mu    sync.Mutex
	queue []subscribeResult
}

func (f *fakeSource) push(r subscribeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, r)
}

func (f *fakeSource) Subscribe(ctx context.Context, codes []string) (TickStream, error) {
	f.calls.Add(1)

	f.mu.Lock()
	if len(f.queue) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	f.mu.Unlock()

	if next.err != nil {
		return nil, next.err
	}
	return next.stream, nil
}

func fastEngineConfig() EngineConfig {
	return EngineConfig{
		ReconnectBaseDelay: time.Millisecond,
		ReconnectMaxDelay:  10 * time.Millisecond,
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func stopEngine(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestEngineStartSeedsAndFolds(t *testing.T) {
	inv := &fakeInventory{instruments: testInstruments()}
	st := newFakeStream("s1")
	src := &fakeSource{}
	src.push(subscribeResult{stream: st})

	merger := NewMerger(nil, nil)
	e := NewEngine(fastEngineConfig(), inv, src, merger, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopEngine(t, e)

	if merger.Latest().Len() != 2 {
		t.Errorf("book size = %d, want 2", merger.Latest().Len())
	}
	if inv.calls.Load() != 1 {
		t.Errorf("inventory calls = %d, want 1", inv.calls.Load())
	}

	st.ticks <- model.Tick{Code: "KRW-BTC", TradePrice: 100}

	waitFor(t, "tick folded", func() bool {
		q, _ := merger.Latest().Quote("KRW-BTC")
		return q.HasPrice() && q.Tick.TradePrice == 100
	})
}

func TestEngineStartFetchFailure(t *testing.T) {
	inv := &fakeInventory{err: fmt.Errorf("snapshot endpoint down")}
	src := &fakeSource{}

	e := NewEngine(fastEngineConfig(), inv, src, NewMerger(nil, nil), nil)

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when the snapshot fetch fails")
	}
	if src.calls.Load() != 0 {
		t.Errorf("subscribe calls = %d, want 0", src.calls.Load())
	}
}

func TestEngineResubscribesWithoutReseeding(t *testing.T) {
	inv := &fakeInventory{instruments: testInstruments()}
	st1 := newFakeStream("s1")
	st2 := newFakeStream("s2")
	src := &fakeSource{}
	src.push(subscribeResult{stream: st1})
	src.push(subscribeResult{stream: st2})

	merger := NewMerger(nil, nil)
	e := NewEngine(fastEngineConfig(), inv, src, merger, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopEngine(t, e)

	st1.ticks <- model.Tick{Code: "KRW-BTC", TradePrice: 100}
	waitFor(t, "first tick folded", func() bool {
		q, _ := merger.Latest().Quote("KRW-BTC")
		return q.HasPrice()
	})

	st1.fail(errors.New("connection reset"))

	waitFor(t, "resubscription", func() bool { return src.calls.Load() >= 2 })

	st2.ticks <- model.Tick{Code: "KRW-BTC", TradePrice: 105}
	waitFor(t, "tick folded after reconnect", func() bool {
		q, _ := merger.Latest().Quote("KRW-BTC")
		return q.Tick.TradePrice == 105
	})

	// Reconnect reuses the seeded book.
	if inv.calls.Load() != 1 {
		t.Errorf("inventory calls = %d, want 1", inv.calls.Load())
	}
}

func TestEngineSubscribeErrorBacksOff(t *testing.T) {
	inv := &fakeInventory{instruments: testInstruments()}
	st := newFakeStream("s1")
	src := &fakeSource{}
	src.push(subscribeResult{err: errors.New("dial tcp: refused")})
	src.push(subscribeResult{stream: st})

	merger := NewMerger(nil, nil)
	e := NewEngine(fastEngineConfig(), inv, src, merger, nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopEngine(t, e)

	waitFor(t, "retry after dial failure", func() bool { return src.calls.Load() >= 2 })

	st.ticks <- model.Tick{Code: "KRW-ETH", TradePrice: 3000}
	waitFor(t, "tick folded after retry", func() bool {
		q, _ := merger.Latest().Quote("KRW-ETH")
		return q.HasPrice()
	})
}

func TestEngineSessionExpiredIsTerminal(t *testing.T) {
	inv := &fakeInventory{instruments: testInstruments()}
	src := &fakeSource{}
	src.push(subscribeResult{err: fmt.Errorf("handshake rejected: %w", auth.ErrSessionExpired)})

	e := NewEngine(fastEngineConfig(), inv, src, NewMerger(nil, nil), nil)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopEngine(t, e)

	waitFor(t, "terminal error", func() bool {
		return errors.Is(e.Err(), auth.ErrSessionExpired)
	})

	// No retries after session expiry.
	time.Sleep(50 * time.Millisecond)
	if src.calls.Load() != 1 {
		t.Errorf("subscribe calls = %d, want 1", src.calls.Load())
	}
}

type captureTickSink struct {
	mu    sync.Mutex
	ticks []model.Tick
}

func (c *captureTickSink) Record(tick model.Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, tick)
}

func (c *captureTickSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

type captureQuoteSink struct {
	mu     sync.Mutex
	quotes []model.Quote
}

func (c *captureQuoteSink) Put(quote model.Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.quotes = append(c.quotes, quote)
}

func (c *captureQuoteSink) last() (model.Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.quotes) == 0 {
		return model.Quote{}, false
	}
	return c.quotes[len(c.quotes)-1], true
}

func TestEngineSinksReceiveFoldedTicksOnly(t *testing.T) {
	inv := &fakeInventory{instruments: testInstruments()}
	st := newFakeStream("s1")
	src := &fakeSource{}
	src.push(subscribeResult{stream: st})

	recorder := &captureTickSink{}
	cache := &captureQuoteSink{}

	merger := NewMerger(nil, nil)
	e := NewEngine(fastEngineConfig(), inv, src, merger, nil,
		WithRecorder(recorder),
		WithCache(cache),
	)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer stopEngine(t, e)

	st.ticks <- model.Tick{Code: "KRW-XRP", TradePrice: 1} // unknown, dropped
	st.ticks <- model.Tick{Code: "KRW-BTC", TradePrice: 100}

	waitFor(t, "recorder delivery", func() bool { return recorder.len() == 1 })

	quote, ok := cache.last()
	if !ok {
		t.Fatal("cache received nothing")
	}
	if quote.Instrument.Code != "KRW-BTC" || quote.Tick.TradePrice != 100 {
		t.Errorf("cached quote = %+v, want merged KRW-BTC at 100", quote)
	}
}
