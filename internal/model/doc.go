// Package model defines the domain types shared across coinsync.
//
// Types fall into two groups:
//   - Session types: the access/refresh token pair.
//   - Market types: instruments from the inventory snapshot, streaming price
//     ticks, and the immutable merged Book published to observers.
package model
