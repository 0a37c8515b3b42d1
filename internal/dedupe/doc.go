// Package dedupe provides a time window that reports whether a key was
// already seen recently. Navigation reports from a page integration arrive
// several times for one page view; the agent records the first and drops the
// rest.
package dedupe
