package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/coinkiri/coinsync/internal/auth"
)

// successCode is the protocol-level success marker in response envelopes.
// Transport success (HTTP 200) and protocol success are distinct: any other
// envelope code is a business failure carrying the server message.
const successCode = "O001"

// envelope is the wire format of every REST response.
type envelope[T any] struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// doRequest performs one authenticated request attempt with the given token.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, accessToken string) (*http.Response, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	return resp, nil
}

// send dispatches an authenticated request. On HTTP 401 it asks the auth
// manager for a reissued token and retries the request exactly once; a
// second 401 ends the session. Non-auth failures pass through unchanged.
func (c *Client) send(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	pair, err := c.auth.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, method, path, query, pair.AccessToken)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.logger.Debug("access token rejected, reissuing", "path", path)

		fresh, err := c.auth.EnsureValid(ctx)
		if err != nil {
			return nil, err
		}

		resp, err = c.doRequest(ctx, method, path, query, fresh.AccessToken)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusUnauthorized {
			// The retry also failed auth. No further automatic retries.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil, fmt.Errorf("retry with reissued token rejected: %w", auth.ErrSessionExpired)
		}
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// getEnveloped performs a GET and unwraps the response envelope.
func getEnveloped[T any](ctx context.Context, c *Client, path string, query url.Values) (T, error) {
	var zero T

	body, err := c.send(ctx, http.MethodGet, path, query)
	if err != nil {
		return zero, err
	}

	var env envelope[T]
	if err := json.Unmarshal(body, &env); err != nil {
		return zero, fmt.Errorf("unmarshal response: %w", err)
	}

	if env.Code != successCode {
		return zero, &BusinessError{Code: env.Code, Message: env.Message}
	}

	return env.Data, nil
}
