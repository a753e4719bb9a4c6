package vad

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/skypro1111/voice-archive-service/internal/audio"
)

// fullScaleRMS maps window energy onto the 0-1 probability range
const fullScaleRMS = 10000.0

// Processor is an energy-based speech gate over normalized recordings
type Processor struct {
	threshold  float32       // normalized RMS above which a window is voiced
	windowSize int           // samples per window
	sampleRate int           // expected sample rate of analyzed audio
	minVoiced  time.Duration // voiced time required to count as speech

	// Statistics
	totalWindows   uint64
	voiceWindows   uint64
	recordings     uint64
	speechRejected uint64
	lastProcessed  time.Time

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection on one window
type VADResult struct {
	Probability    float32       `json:"probability"`     // Voice probability (0.0 - 1.0)
	HasVoice       bool          `json:"has_voice"`       // Whether voice was detected
	Confidence     float32       `json:"confidence"`      // Confidence in the result
	WindowIndex    int           `json:"window_index"`    // Window index processed
	ProcessingTime time.Duration `json:"processing_time"` // Time taken to process
}

// VoiceSegment represents a continuous stretch of voice activity inside a recording
type VoiceSegment struct {
	Start      time.Duration `json:"start"`      // Offset of the first voiced window
	End        time.Duration `json:"end"`        // Offset after the last voiced window
	Confidence float32       `json:"confidence"` // Average confidence for the segment
}

// Decision is the gate verdict for a whole recording
type Decision struct {
	HasSpeech bool           `json:"has_speech"`
	Voiced    time.Duration  `json:"voiced"`
	Total     time.Duration  `json:"total"`
	Segments  []VoiceSegment `json:"segments"`
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	Recordings      uint64    `json:"recordings"`
	SpeechRejected  uint64    `json:"speech_rejected"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float32   `json:"threshold"`
}

// NewProcessor creates a new speech gate
func NewProcessor(threshold float32, windowSize int, sampleRate int, minVoiced time.Duration) (*Processor, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if minVoiced < 0 {
		return nil, fmt.Errorf("minimum voiced duration cannot be negative, got %s", minVoiced)
	}

	return &Processor{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		minVoiced:  minVoiced,
	}, nil
}

// Process classifies a single window of audio samples
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	startTime := time.Now()

	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	probability := windowProbability(samples)

	p.mu.Lock()
	defer p.mu.Unlock()

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	return &VADResult{
		Probability:    probability,
		HasVoice:       hasVoice,
		Confidence:     confidence(probability, p.threshold),
		WindowIndex:    int(p.totalWindows - 1),
		ProcessingTime: time.Since(startTime),
	}, nil
}

// Analyze runs the gate over a full recording. A trailing partial window is
// evaluated on its own samples.
func (p *Processor) Analyze(samples []int16) Decision {
	p.mu.RLock()
	threshold := p.threshold
	minVoiced := p.minVoiced
	p.mu.RUnlock()

	var (
		decision Decision
		current  *VoiceSegment
		windows  int
		voiced   int
		confSum  float32
		confN    int
	)

	for start := 0; start < len(samples); start += p.windowSize {
		end := start + p.windowSize
		if end > len(samples) {
			end = len(samples)
		}
		window := samples[start:end]
		offset := time.Duration(start) * time.Second / time.Duration(p.sampleRate)
		length := time.Duration(len(window)) * time.Second / time.Duration(p.sampleRate)

		probability := windowProbability(window)
		windows++

		if probability >= threshold {
			voiced++
			decision.Voiced += length
			if current == nil {
				current = &VoiceSegment{Start: offset}
				confSum, confN = 0, 0
			}
			confSum += confidence(probability, threshold)
			confN++
			current.End = offset + length
		} else if current != nil {
			current.Confidence = confSum / float32(confN)
			decision.Segments = append(decision.Segments, *current)
			current = nil
		}
	}

	if current != nil {
		current.Confidence = confSum / float32(confN)
		decision.Segments = append(decision.Segments, *current)
	}

	decision.Total = time.Duration(len(samples)) * time.Second / time.Duration(p.sampleRate)
	decision.HasSpeech = voiced > 0 && decision.Voiced >= minVoiced

	p.mu.Lock()
	p.totalWindows += uint64(windows)
	p.voiceWindows += uint64(voiced)
	p.recordings++
	if !decision.HasSpeech {
		p.speechRejected++
	}
	p.lastProcessed = time.Now()
	p.mu.Unlock()

	return decision
}

// AnalyzeFile decodes a normalized WAV file and runs the gate over it
func (p *Processor) AnalyzeFile(path string) (Decision, error) {
	samples, sampleRate, err := audio.ReadWAVFile(path)
	if err != nil {
		return Decision{}, err
	}

	if sampleRate != p.sampleRate {
		return Decision{}, fmt.Errorf("expected %d Hz audio, got %d Hz", p.sampleRate, sampleRate)
	}

	return p.Analyze(samples), nil
}

// windowProbability converts the RMS energy of a window into the 0-1 range
func windowProbability(samples []int16) float32 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	probability := rms / fullScaleRMS
	if probability > 1.0 {
		probability = 1.0
	}
	return float32(probability)
}

// confidence is higher when the probability is far from the threshold
func confidence(probability, threshold float32) float32 {
	c := float32(math.Abs(float64(probability - threshold)))
	if c > 0.5 {
		c = 0.5
	}
	return c * 2
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		Recordings:      p.recordings,
		SpeechRejected:  p.speechRejected,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}
