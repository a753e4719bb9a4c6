// Package vad provides an energy-based speech gate. It slides fixed windows
// over a normalized recording, classifies each by RMS energy and reports
// whether enough voiced audio is present to be worth sending to recognition.
package vad
