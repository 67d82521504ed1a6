// Package dedupe suppresses replays of client idempotency keys using a
// time-based guard, so transport-level retries of an already-submitted
// request never reach dispatch twice within the window.
package dedupe
