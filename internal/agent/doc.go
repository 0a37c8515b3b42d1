// Package agent runs the device side of the ytwatch protocol.
//
// # Session
//
// Session registers the device and stores the issued API key in State. Every
// operation re-reads the key from State. A 401 or 403 clears it, and the next
// scheduled operation registers again; there is no dedicated retry timer.
//
// # Loops
//
// Agent.Run starts three independent tickers:
//
//   - heartbeat (60s): Heartbeater.Tick
//   - sync (10m): Syncer.Tick uploads buffered history, clear-after-ack
//   - rules (30s): RuleSync.Refresh followed by an engine re-check
//
// # Bridge
//
// The bridge listens on a loopback address for navigation reports:
//
//	POST /navigate {"url": "...", "video_id": "...", "channel_id": "...", "title": "...", "channel_name": "..."}
//	GET  /state
//
// A report refreshes rules, runs the enforce.Engine, and buffers a history
// entry unless the same video was reported within the dedupe window.
//
// # State
//
// LocalState keeps identity and the history buffer in SQLite (mattn/go-sqlite3),
// with the schema managed by golang-migrate from embedded SQL files.
package agent
