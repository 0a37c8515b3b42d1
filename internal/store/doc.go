// Package store provides persistent storage for the ytwatch service using SQLite.
//
// # Architecture
//
// The store package splits persistence into small interfaces:
//
//   - DeviceStore: the credential store (device identity, api key, liveness)
//   - HistoryStore: append-only watch history
//   - BlockStore: block rules and enforcement attempts
//
// Store combines them. SQLiteStore implements all of them in a single struct;
// MockStore is an in-memory equivalent for handler tests.
//
// # Data Models
//
//   - Device: one monitored browser/machine, keyed by a client-chosen id
//   - WatchHistoryEntry: one playback event, owned by the device that wrote it
//   - Block: a video/channel rule; a nil DeviceID makes it global
//   - BlockAttempt: one time enforcement fired
//
// A device's rule view is the union of global blocks and its own blocks,
// newest first. Device "online" is derived from LastHeartbeat at read time.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode and a single connection, so writers are
// serialized by the pool:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Timestamps are stored as fixed-width UTC text so ORDER BY on the column is
// chronological.
//
// # Error Handling
//
//   - ErrNotFound: requested entity (or referenced device) does not exist
//   - ErrDuplicate: unique key collision
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a temp
// file for integration tests with real SQLite.
package store
