package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coinkiri/coinsync/internal/auth"
	"github.com/coinkiri/coinsync/internal/model"
)

// SubscriberConfig holds settings for opening ticker subscriptions.
type SubscriberConfig struct {
	URL          string
	PingInterval time.Duration
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Subscriber opens authenticated ticker subscriptions.
//
// The subscription-open request is authenticated exactly like a one-shot
// REST call: current access token attached, one single-flight reissue and
// one retry on a rejected handshake. Once the stream is open, auth failures
// are stream errors; mid-stream reissue is out of scope.
type Subscriber struct {
	cfg    SubscriberConfig
	auth   *auth.Manager
	logger *slog.Logger
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(cfg SubscriberConfig, mgr *auth.Manager, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}

	return &Subscriber{
		cfg:    cfg,
		auth:   mgr,
		logger: logger,
	}
}

// subscribeRequest is the stream-open payload: comma-joined, quoted codes.
type subscribeRequest struct {
	Type  string `json:"type"`
	Codes string `json:"codes"`
}

// tickerType is the only subscription type the engine uses.
const tickerType = "ticker"

// quoteCodes joins instrument codes into the wire format: `"KRW-BTC","KRW-ETH"`.
func quoteCodes(codes []string) string {
	quoted := make([]string, len(codes))
	for i, code := range codes {
		quoted[i] = `"` + code + `"`
	}
	return strings.Join(quoted, ",")
}

// Subscribe opens a ticker subscription for a fixed instrument-code set.
// The returned Subscription is infinite and not restartable: changing the
// observed set means Close and Subscribe again.
func (s *Subscriber) Subscribe(ctx context.Context, codes []string) (*Subscription, error) {
	if len(codes) == 0 {
		return nil, errors.New("stream: subscribe requires at least one code")
	}

	id := uuid.NewString()
	logger := s.logger.With("session_id", id)

	pair, err := s.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	client, err := s.dial(ctx, logger, pair.AccessToken)
	if errors.Is(err, ErrUnauthorized) {
		logger.Debug("stream handshake rejected, reissuing token")

		fresh, authErr := s.auth.EnsureValid(ctx)
		if authErr != nil {
			return nil, authErr
		}

		client, err = s.dial(ctx, logger, fresh.AccessToken)
		if errors.Is(err, ErrUnauthorized) {
			// The retry also failed auth. No further automatic retries.
			return nil, fmt.Errorf("stream handshake with reissued token rejected: %w", auth.ErrSessionExpired)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("dial stream: %w", err)
	}

	payload, err := json.Marshal(subscribeRequest{
		Type:  tickerType,
		Codes: quoteCodes(codes),
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("marshal subscribe request: %w", err)
	}
	if err := client.Send(payload); err != nil {
		client.Close()
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}

	logger.Info("ticker subscription opened", "codes", len(codes))

	sub := &Subscription{
		id:     id,
		client: client,
		ticks:  make(chan model.Tick, s.cfg.BufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	go sub.run()

	return sub, nil
}

// dial opens one WebSocket connection attempt with the given access token.
func (s *Subscriber) dial(ctx context.Context, logger *slog.Logger, accessToken string) (Client, error) {
	client := NewClient(ClientConfig{
		URL:          s.cfg.URL,
		PingInterval: s.cfg.PingInterval,
		PingTimeout:  s.cfg.PingTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BufferSize:   s.cfg.BufferSize,
	}, logger)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	if err := client.Connect(ctx, header); err != nil {
		return nil, err
	}
	return client, nil
}

// Subscription is one live ticker stream: a lazy, unbounded sequence of
// ticks for a fixed code set.
type Subscription struct {
	id     string
	client Client
	ticks  chan model.Tick
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// ID returns the subscription session id.
func (s *Subscription) ID() string {
	return s.id
}

// Ticks returns the tick channel. Closed when the stream terminates; check
// Err afterwards for the terminal cause.
func (s *Subscription) Ticks() <-chan model.Tick {
	return s.ticks
}

// Err returns the terminal stream error, or nil after a clean Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription and closes the underlying connection.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.client.Close()
	})
}

// run pumps raw messages into parsed ticks until the stream ends.
func (s *Subscription) run() {
	defer close(s.ticks)

	for {
		select {
		case <-s.done:
			return

		case err := <-s.client.Errors():
			s.mu.Lock()
			s.err = &StreamError{SessionID: s.id, Err: err}
			s.mu.Unlock()

			s.logger.Warn("stream terminated", "error", err)
			s.client.Close()
			return

		case msg, ok := <-s.client.Messages():
			if !ok {
				return
			}

			var tick model.Tick
			if err := json.Unmarshal(msg.Data, &tick); err != nil || tick.Code == "" {
				s.logger.Warn("discarding unparseable stream message", "len", len(msg.Data))
				continue
			}
			tick.ReceivedAt = msg.ReceivedAt

			select {
			case s.ticks <- tick:
			case <-s.done:
				return
			}
		}
	}
}
