// Package tts synthesizes assistant replies to speech via an OpenAI-compatible
// speech endpoint. Failures never propagate: callers receive empty audio.
package tts
