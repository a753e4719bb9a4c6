// Package audio normalizes recorded speech into canonical mono 16kHz PCM WAV
// segments and merges a session's segments into one archival recording.
// Transcoding and concatenation are delegated to ffmpeg; silence clips and
// WAV parsing are handled natively.
package audio
