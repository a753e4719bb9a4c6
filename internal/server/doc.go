// Package server implements the HTTP API of the voice service: conversation
// endpoints (/initiate, /speech, /cleanup, /reply_audio/{filename}) and
// monitoring endpoints (/health, /stats, /metrics).
//
// Authentication happens upstream; the authenticated user arrives in the
// X-User-ID and X-Username headers. The session key is an opaque uuid carried
// in the voice_session cookie, issued on first contact.
package server
