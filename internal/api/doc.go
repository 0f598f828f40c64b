// Package api implements the authenticated REST client.
//
// The client is the request dispatcher of the engine: it attaches the
// current access token to every call, absorbs recoverable authentication
// failures through the token manager's single-flight reissue (one retry,
// never more), and maps response envelopes onto a closed error taxonomy:
// TransportError, HTTPError, BusinessError, auth.ErrSessionExpired.
package api
