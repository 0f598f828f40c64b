// Package auth manages the session token pair: durable storage and the
// single-flight reissue protocol.
//
// The Store holds either a complete access/refresh pair or nothing. The
// Manager is the only component that mutates it after login: a reissue
// replaces the pair atomically, a failed reissue clears it and parks the
// manager in StateFailed until a fresh login.
package auth
