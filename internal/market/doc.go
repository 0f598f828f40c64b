// Package market maintains the merged in-memory market state.
//
// Merger folds the tick stream into an immutable model.Book with
// single-writer discipline; Engine drives the full lifecycle: inventory
// snapshot, book seeding, and the streaming fold loop with automatic
// resubscription on stream failure.
package market
