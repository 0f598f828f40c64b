package cache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

func TestQuoteKey(t *testing.T) {
	if got := quoteKey("KRW-BTC"); got != "quotes:KRW-BTC" {
		t.Errorf("quoteKey = %q, want quotes:KRW-BTC", got)
	}
}

func TestEntryRoundTrip(t *testing.T) {
	tick := model.Tick{Code: "KRW-BTC", TradePrice: 92000000}
	in := entry{
		Instrument: model.Instrument{Code: "KRW-BTC", Name: "Bitcoin", Symbol: "BTC"},
		Tick:       &tick,
		UpdatedAt:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out entry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Instrument.Code != "KRW-BTC" || out.Tick == nil || out.Tick.TradePrice != 92000000 {
		t.Errorf("round trip = %+v", out)
	}
}

func TestEntryOmitsNilTick(t *testing.T) {
	data, err := json.Marshal(entry{
		Instrument: model.Instrument{Code: "KRW-ETH"},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["tick"]; ok {
		t.Error("nil tick should be omitted")
	}
}

func TestPutDropsWhenBufferFull(t *testing.T) {
	met := metrics.NewWithRegistry(prometheus.NewRegistry())
	cfg := DefaultConfig()
	cfg.BufferSize = 1

	// Not started, so nothing drains the input buffer.
	m := New(cfg, nil, met)

	m.Put(model.Quote{Instrument: model.Instrument{Code: "KRW-BTC"}})
	m.Put(model.Quote{Instrument: model.Instrument{Code: "KRW-ETH"}})

	if got := testutil.ToFloat64(met.CacheDrops); got != 1 {
		t.Errorf("CacheDrops = %v, want 1", got)
	}
}
