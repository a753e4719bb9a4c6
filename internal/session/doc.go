// Package session stores the live state of conversation sessions: the turn
// history, the audio segments recorded so far, and the owning user. State
// lives in memory or in Redis, expires after a period of inactivity, and is
// serialized per key with a Locker.
package session
