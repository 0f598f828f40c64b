package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

func TestTransform(t *testing.T) {
	receivedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := model.Tick{
		Code:              "KRW-BTC",
		TradePrice:        92000000,
		SignedChangeRate:  0.012,
		SignedChangePrice: 1100000,
		HighPrice:         93000000,
		LowPrice:          90500000,
		ReceivedAt:        receivedAt,
	}

	row := transform(tick)

	if row.Code != "KRW-BTC" {
		t.Errorf("Code = %s, want KRW-BTC", row.Code)
	}
	if row.TradePrice != 92000000 {
		t.Errorf("TradePrice = %v, want 92000000", row.TradePrice)
	}
	if row.SignedChangeRate != 0.012 {
		t.Errorf("SignedChangeRate = %v, want 0.012", row.SignedChangeRate)
	}
	if row.HighPrice != 93000000 {
		t.Errorf("HighPrice = %v, want 93000000", row.HighPrice)
	}
	if row.LowPrice != 90500000 {
		t.Errorf("LowPrice = %v, want 90500000", row.LowPrice)
	}
	if row.ReceivedAt != receivedAt.UnixMicro() {
		t.Errorf("ReceivedAt = %d, want %d", row.ReceivedAt, receivedAt.UnixMicro())
	}
}

func TestRecordAddsToBatch(t *testing.T) {
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
	r := New(cfg, nil, nil, nil)

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	r.Record(model.Tick{Code: "KRW-BTC", TradePrice: 100, ReceivedAt: time.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.batchMu.Lock()
	if len(r.batch) != 1 {
		t.Errorf("batch length = %d, want 1", len(r.batch))
	}
	r.batchMu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func TestRecordDropsWhenBufferFull(t *testing.T) {
	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	cfg := Config{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    1,
	}
	// Not started, so nothing consumes the input buffer.
	r := New(cfg, nil, nil, met)

	r.Record(model.Tick{Code: "KRW-BTC"})
	r.Record(model.Tick{Code: "KRW-ETH"})

	if got := testutil.ToFloat64(met.RecorderDrops); got != 1 {
		t.Errorf("RecorderDrops = %v, want 1", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.BatchSize != 1000 {
		t.Errorf("BatchSize = %d, want 1000", cfg.BatchSize)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v, want 5s", cfg.FlushInterval)
	}
	if cfg.BufferSize != 4096 {
		t.Errorf("BufferSize = %d, want 4096", cfg.BufferSize)
	}
}

func TestStatsInitiallyZero(t *testing.T) {
	r := New(DefaultConfig(), nil, nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 || stats.Errors != 0 || stats.Flushes != 0 {
		t.Errorf("initial stats = %+v, want zero", stats)
	}
}
