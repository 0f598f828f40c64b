package api

import (
	"context"

	"github.com/coinkiri/coinsync/internal/model"
)

// GetInstruments fetches the one-shot inventory of tradable instruments.
// Idempotent; safe to call repeatedly; no caching beyond the returned slice.
func (c *Client) GetInstruments(ctx context.Context) ([]model.Instrument, error) {
	return getEnveloped[[]model.Instrument](ctx, c, "/coins", nil)
}
