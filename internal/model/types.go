package model

import "time"

// -----------------------------------------------------------------------------
// Session Types
// -----------------------------------------------------------------------------

// TokenPair holds the credential pair for an authenticated session.
//
// A pair is either complete (both tokens present) or the session is
// unauthenticated; a partial pair is never stored.
type TokenPair struct {
	AccessToken  string // Short-lived credential attached to every API call
	RefreshToken string // Longer-lived credential used only for reissue
}

// Complete reports whether both tokens are present.
func (p TokenPair) Complete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// IsZero reports whether the pair is entirely absent.
func (p TokenPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// -----------------------------------------------------------------------------
// Market Types
// -----------------------------------------------------------------------------

// Instrument is one tradable market from the inventory snapshot.
// Immutable for the lifetime of a session.
type Instrument struct {
	Code       string `json:"marketName"`  // Primary key (e.g., "KRW-BTC")
	Name       string `json:"englishName"` // Display name
	KoreanName string `json:"koreanName"`  // Localized display name
	Symbol     string `json:"symbol"`      // Ticker symbol (e.g., "BTC")
}

// Tick is one incremental price update for a single instrument.
type Tick struct {
	Code              string    `json:"code"`              // Instrument code
	TradePrice        float64   `json:"tradePrice"`        // Last trade price
	SignedChangeRate  float64   `json:"signedChangeRate"`  // Signed 24h change rate
	SignedChangePrice float64   `json:"signedChangePrice"` // Signed 24h change amount
	HighPrice         float64   `json:"highPrice"`         // 24h high
	LowPrice          float64   `json:"lowPrice"`          // 24h low
	ReceivedAt        time.Time `json:"-"`                 // Local receive timestamp
}

// Quote is the merged view of one instrument: static snapshot fields plus the
// most recently observed tick. Tick is nil until the first tick arrives.
type Quote struct {
	Instrument Instrument
	Tick       *Tick
}

// HasPrice reports whether at least one tick has been folded for this quote.
func (q Quote) HasPrice() bool {
	return q.Tick != nil
}

// Book is an immutable snapshot of the full market state: every instrument
// from the inventory snapshot with its latest quote, in snapshot order.
//
// A Book is never mutated after publication; the merger produces a new Book
// for every state transition, so readers can hold one indefinitely.
type Book struct {
	codes  []string
	quotes map[string]Quote
}

// NewBook builds a Book seeded from the snapshot instruments, all price
// fields empty. Order of entries follows the snapshot.
func NewBook(instruments []Instrument) *Book {
	codes := make([]string, 0, len(instruments))
	quotes := make(map[string]Quote, len(instruments))
	for _, in := range instruments {
		if _, ok := quotes[in.Code]; ok {
			continue
		}
		codes = append(codes, in.Code)
		quotes[in.Code] = Quote{Instrument: in}
	}
	return &Book{codes: codes, quotes: quotes}
}

// Len returns the number of instruments in the book.
func (b *Book) Len() int {
	return len(b.codes)
}

// Codes returns the instrument codes in snapshot order.
// The returned slice must not be modified.
func (b *Book) Codes() []string {
	return b.codes
}

// Quote returns the merged quote for a code.
func (b *Book) Quote(code string) (Quote, bool) {
	q, ok := b.quotes[code]
	return q, ok
}

// Quotes returns all quotes in snapshot order.
func (b *Book) Quotes() []Quote {
	out := make([]Quote, 0, len(b.codes))
	for _, code := range b.codes {
		out = append(out, b.quotes[code])
	}
	return out
}

// WithTick returns a new Book where the entry for tick.Code carries the
// tick's price fields. All other entries are shared with the receiver.
// If the code is not in the book, the receiver is returned unchanged and
// ok is false.
func (b *Book) WithTick(tick Tick) (next *Book, ok bool) {
	q, ok := b.quotes[tick.Code]
	if !ok {
		return b, false
	}

	quotes := make(map[string]Quote, len(b.quotes))
	for k, v := range b.quotes {
		quotes[k] = v
	}
	t := tick
	q.Tick = &t
	quotes[tick.Code] = q

	return &Book{codes: b.codes, quotes: quotes}, true
}
