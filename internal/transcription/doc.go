// Package transcription implements the HTTP client for a Whisper-compatible
// speech recognition API. It uploads normalized WAV files as multipart form
// data, retries transient failures with exponential backoff, limits
// concurrency with a semaphore, and classifies outcomes as recognized text,
// ErrNoSpeech, or ErrServiceUnavailable.
package transcription
