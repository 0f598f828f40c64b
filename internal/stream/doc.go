// Package stream implements the WebSocket ticker subscription.
//
// Client is one raw WebSocket connection with keepalive handling;
// Subscriber opens authenticated subscriptions on top of it and parses the
// inbound messages into model.Tick values. A Subscription is a lazy,
// unbounded tick sequence for a fixed code set; it is not restartable.
package stream
