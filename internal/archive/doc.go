// Package archive turns finalized sessions into persisted artifacts.
//
// A Queue feeds jobs to a bounded set of goroutines. Each job is handled by
// a Worker in two independent stages:
//
//   - the session's audio segments are joined with silence gaps into one
//     recording, and the source segments are deleted once the merge succeeds;
//   - facts are extracted from the transcript and merged into the user's
//     encrypted record under a per-user lock, so concurrent sessions of one
//     user never lose each other's updates.
//
// Failures in one stage are logged and do not stop the other.
package archive
