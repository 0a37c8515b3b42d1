// Package enforce decides whether the content on a monitored device is
// blocked.
//
// An Engine holds the last successfully fetched rule set and the current page
// identity. Navigate and Recheck move it between UNCHECKED, ALLOWED and
// BLOCKED, showing or clearing a Notice through a Presenter and reporting
// attempts through a Reporter according to the configured AttemptPolicy.
//
// A failed rule fetch never reaches the engine: callers simply keep the
// previous set, so an error can never cause a block.
package enforce
