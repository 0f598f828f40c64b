package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coinkiri/coinsync/internal/metrics"
	"github.com/coinkiri/coinsync/internal/model"
)

// ErrSessionExpired is returned when the refresh token itself is rejected or
// a reissue attempt fails. The session is over: the store has been cleared
// and the caller must authenticate from scratch.
var ErrSessionExpired = errors.New("auth: session expired")

// RefreshState describes the manager's reissue state machine.
type RefreshState int32

const (
	StateIdle RefreshState = iota
	StateRefreshing
	StateFailed
)

// String returns the state name.
func (s RefreshState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// successCode is the protocol-level success marker in auth envelopes.
const successCode = "O001"

// reissueKey is the single-flight key: one reissue process-wide.
const reissueKey = "reissue"

// Manager owns the token refresh protocol.
//
// It guarantees single-flight reissue: for any number of concurrent callers
// hitting EnsureValid within one refresh window, exactly one reissue call
// reaches the auth endpoint and every caller observes the same outcome.
// A reissue failure is terminal: the store is cleared and the manager stays
// in StateFailed until Login installs a fresh pair.
type Manager struct {
	authURL    string
	store      Store
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	sf singleflight.Group

	mu    sync.Mutex
	state RefreshState
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithHTTPClient sets a custom HTTP client for reissue calls.
func WithHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// NewManager creates a token lifecycle manager talking to the auth endpoint
// at authURL and persisting pairs in store.
func NewManager(authURL string, store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		authURL: authURL,
		store:   store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		state:  StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// State returns the current refresh state.
func (m *Manager) State() RefreshState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the currently stored pair without triggering a reissue.
// Returns ErrSessionExpired after a terminal reissue failure and
// ErrNoSession when no pair has been stored.
func (m *Manager) Token(ctx context.Context) (model.TokenPair, error) {
	if m.State() == StateFailed {
		return model.TokenPair{}, ErrSessionExpired
	}
	return m.store.Get(ctx)
}

// Login installs an externally obtained pair and resets the state machine.
// How the pair is obtained (OAuth dance, test fixture) is the caller's
// concern.
func (m *Manager) Login(ctx context.Context, pair model.TokenPair) error {
	if err := m.store.Set(ctx, pair); err != nil {
		return err
	}
	m.setState(StateIdle)
	m.logger.Info("session established")
	return nil
}

// Logout clears the stored pair. Subsequent calls fail until Login.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.store.Clear(ctx); err != nil {
		return err
	}
	m.setState(StateIdle)
	m.logger.Info("session cleared")
	return nil
}

// EnsureValid triggers or joins an in-flight token reissue and returns the
// resulting pair. Callers invoke it after an authentication failure; the
// reissue itself runs on its own context, so a caller abandoning the wait
// (ctx cancelled) never aborts the refresh for the others.
func (m *Manager) EnsureValid(ctx context.Context) (model.TokenPair, error) {
	if m.State() == StateFailed {
		return model.TokenPair{}, ErrSessionExpired
	}

	ch := m.sf.DoChan(reissueKey, func() (any, error) {
		return m.reissue()
	})

	select {
	case <-ctx.Done():
		return model.TokenPair{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.TokenPair{}, res.Err
		}
		return res.Val.(model.TokenPair), nil
	}
}

// reissue exchanges the stored refresh token for a new pair. Runs at most
// once concurrently (single-flight). Detached from caller contexts.
func (m *Manager) reissue() (model.TokenPair, error) {
	timeout := m.httpClient.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pair, err := m.store.Get(ctx)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	m.setState(StateRefreshing)
	if m.metrics != nil {
		m.metrics.TokenReissues.Inc()
	}

	newPair, err := m.requestReissue(ctx, pair.RefreshToken)
	if err != nil {
		// Invalid refresh token or transport failure: either way the
		// session is over. Clear the store so no caller keeps using a
		// dead credential.
		if clearErr := m.store.Clear(ctx); clearErr != nil {
			m.logger.Error("failed to clear session after reissue failure", "error", clearErr)
		}
		m.setState(StateFailed)
		if m.metrics != nil {
			m.metrics.ReissueFailures.Inc()
		}
		m.logger.Warn("token reissue failed, session expired", "error", err)
		return model.TokenPair{}, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	if err := m.store.Set(ctx, newPair); err != nil {
		m.store.Clear(ctx)
		m.setState(StateFailed)
		if m.metrics != nil {
			m.metrics.ReissueFailures.Inc()
		}
		return model.TokenPair{}, fmt.Errorf("%w: store pair: %w", ErrSessionExpired, err)
	}

	m.setState(StateIdle)
	m.logger.Info("token pair reissued")
	return newPair, nil
}

// reissueResponse is the auth endpoint's response envelope.
type reissueResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// requestReissue performs the reissue HTTP call. The refresh token rides in
// its own header; this is the one call exempt from bearer auth.
func (m *Manager) requestReissue(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.authURL+"/reissue", nil)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Refresh-Token", refreshToken)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.TokenPair{}, fmt.Errorf("reissue rejected: status %d", resp.StatusCode)
	}

	var envelope reissueResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return model.TokenPair{}, fmt.Errorf("unmarshal response: %w", err)
	}
	if envelope.Code != successCode {
		return model.TokenPair{}, fmt.Errorf("reissue rejected: %s: %s", envelope.Code, envelope.Message)
	}

	newPair := model.TokenPair{
		AccessToken:  envelope.Data.AccessToken,
		RefreshToken: envelope.Data.RefreshToken,
	}
	if !newPair.Complete() {
		return model.TokenPair{}, errors.New("reissue response missing token pair")
	}
	return newPair, nil
}

func (m *Manager) setState(s RefreshState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RefreshState.Set(float64(s))
	}
}
