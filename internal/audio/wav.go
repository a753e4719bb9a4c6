package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo holds the format metadata of a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// wavLayout describes where the fmt and data chunks live inside a file.
// ffmpeg writes a LIST chunk between them, so offsets are not fixed.
type wavLayout struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
	dataOffset    int
	dataSize      uint32
}

// EncodeWAV encodes mono PCM-16 samples into WAV format
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	numChannels := uint16(1)
	bitsPerSample := uint16(16)
	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(numChannels) * uint32(bitsPerSample) / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// EncodeSilence returns a WAV file containing the requested number of
// seconds of digital silence
func EncodeSilence(seconds float64, sampleRate int) ([]byte, error) {
	numSamples := int(seconds * float64(sampleRate))
	if numSamples <= 0 {
		return nil, fmt.Errorf("silence duration must be positive, got %.3fs", seconds)
	}
	return EncodeWAV(make([]int16, numSamples), sampleRate)
}

// parseLayout walks the RIFF chunk list and locates fmt and data
func parseLayout(data []byte) (*wavLayout, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("WAV data too short: need at least 12 bytes, got %d", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var layout wavLayout
	var haveFmt, haveData bool

	pos := 12
	for pos+8 <= len(data) && !(haveFmt && haveData) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			layout.audioFormat = binary.LittleEndian.Uint16(data[body : body+2])
			layout.channels = binary.LittleEndian.Uint16(data[body+2 : body+4])
			layout.sampleRate = binary.LittleEndian.Uint32(data[body+4 : body+8])
			layout.bitsPerSample = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			layout.dataOffset = body
			layout.dataSize = size
			// Streaming writers may leave the size unset
			if remaining := uint32(len(data) - body); size > remaining {
				layout.dataSize = remaining
			}
			haveData = true
		}

		// Chunks are word aligned
		pos = body + int(size) + int(size%2)
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if !haveData {
		return nil, fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return &layout, nil
}

// DecodeWAV decodes WAV format data back to mono PCM-16 samples
func DecodeWAV(data []byte) ([]int16, int, error) {
	layout, err := parseLayout(data)
	if err != nil {
		return nil, 0, err
	}

	if layout.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", layout.audioFormat)
	}

	if layout.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", layout.bitsPerSample)
	}

	if layout.channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", layout.channels)
	}

	numSamples := int(layout.dataSize) / 2
	if numSamples <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples := make([]int16, numSamples)
	raw := data[layout.dataOffset : layout.dataOffset+numSamples*2]
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, samples); err != nil {
		return nil, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	return samples, int(layout.sampleRate), nil
}

// ValidateWAV validates a WAV file structure without decoding the audio data
func ValidateWAV(data []byte) error {
	_, err := parseLayout(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVFileDuration reads a WAV file from disk and returns its length in seconds
func WAVFileDuration(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}
	return GetWAVDuration(data)
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	layout, err := parseLayout(data)
	if err != nil {
		return nil, err
	}

	if layout.sampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	bytesPerFrame := uint32(layout.bitsPerSample) / 8 * uint32(layout.channels)
	if bytesPerFrame == 0 {
		return nil, fmt.Errorf("invalid WAV format: %d bits, %d channels", layout.bitsPerSample, layout.channels)
	}

	numSamples := layout.dataSize / bytesPerFrame

	return &WAVInfo{
		SampleRate:    layout.sampleRate,
		Channels:      layout.channels,
		BitsPerSample: layout.bitsPerSample,
		Duration:      float64(numSamples) / float64(layout.sampleRate),
		DataSize:      layout.dataSize,
		NumSamples:    numSamples,
	}, nil
}

// ReadWAVFile loads and decodes a mono PCM-16 WAV file from disk
func ReadWAVFile(path string) ([]int16, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read WAV file %s: %w", path, err)
	}
	return DecodeWAV(data)
}
