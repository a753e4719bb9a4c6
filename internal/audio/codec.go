package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Canonical waveform produced by the codec
const (
	SampleRate = 16000
	Channels   = 1

	DefaultFFmpegPath = "ffmpeg"
	DefaultTimeout    = 2 * time.Minute
)

var (
	// ErrTranscode is returned when input audio cannot be converted to the canonical waveform
	ErrTranscode = errors.New("audio transcode failed")

	// ErrConcatenation is returned when a session recording cannot be merged
	ErrConcatenation = errors.New("audio concatenation failed")
)

// ExecError carries the stderr of a failed ffmpeg invocation
type ExecError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *ExecError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("ffmpeg %s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("ffmpeg %s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Runner executes an external command and returns its stderr output
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// CodecConfig contains audio pipeline paths and ffmpeg settings
type CodecConfig struct {
	FFmpegPath string
	LogDir     string // per-turn segments and merged recordings
	SilenceDir string // cached silence clips
	TempDir    string // raw uploads awaiting transcode
	Timeout    time.Duration
}

// Codec converts recorded audio into canonical mono 16kHz WAV files and
// merges session recordings
type Codec struct {
	config CodecConfig
	runner Runner
	logger *slog.Logger
	now    func() time.Time

	silence singleflight.Group
}

// CodecOption customizes a Codec
type CodecOption func(*Codec)

// WithRunner replaces the ffmpeg executor
func WithRunner(r Runner) CodecOption {
	return func(c *Codec) {
		c.runner = r
	}
}

// WithClock replaces the time source used for segment names
func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates the codec and its working directories
func NewCodec(config CodecConfig, logger *slog.Logger, opts ...CodecOption) (*Codec, error) {
	if config.LogDir == "" {
		return nil, fmt.Errorf("audio log directory cannot be empty")
	}

	if config.FFmpegPath == "" {
		config.FFmpegPath = DefaultFFmpegPath
	}

	if config.SilenceDir == "" {
		config.SilenceDir = filepath.Join(config.LogDir, "silence")
	}

	if config.TempDir == "" {
		config.TempDir = os.TempDir()
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}

	for _, dir := range []string{config.LogDir, config.SilenceDir, config.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	c := &Codec{
		config: config,
		runner: execRunner{},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// LogDir returns the directory holding segment and merged recordings
func (c *Codec) LogDir() string {
	return c.config.LogDir
}

// Normalize transcodes arbitrary input audio to a mono 16kHz PCM WAV file in
// the audio log directory. who tags the segment origin in its file name.
func (c *Codec) Normalize(ctx context.Context, raw []byte, formatHint, who string) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty input", ErrTranscode)
	}

	in, err := os.CreateTemp(c.config.TempDir, "upload-*"+extensionFor(formatHint))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create temp input: %w", ErrTranscode, err)
	}
	inPath := in.Name()
	defer os.Remove(inPath)

	if _, err := in.Write(raw); err != nil {
		in.Close()
		return "", fmt.Errorf("%w: failed to write temp input: %w", ErrTranscode, err)
	}
	if err := in.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to close temp input: %w", ErrTranscode, err)
	}

	outPath := filepath.Join(c.config.LogDir, SegmentName(who, c.now()))

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	stderr, err := c.runner.Run(ctx, c.config.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", inPath,
		"-ar", fmt.Sprint(SampleRate), "-ac", fmt.Sprint(Channels),
		"-c:a", "pcm_s16le",
		outPath,
	)
	if err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("%w: %w", ErrTranscode, &ExecError{Op: "normalize", Stderr: strings.TrimSpace(string(stderr)), Err: err})
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("%w: no output produced: %w", ErrTranscode, err)
	}

	c.logger.Debug("Audio normalized",
		slog.String("segment", filepath.Base(outPath)),
		slog.String("format_hint", formatHint),
		slog.Int("input_bytes", len(raw)),
	)

	return outPath, nil
}

// SilenceClip returns the cached silent WAV of the given duration, creating
// it on first use. The file is written to a temp name and renamed into place,
// so concurrent callers never observe a partial clip.
func (c *Codec) SilenceClip(ctx context.Context, d time.Duration) (string, error) {
	if d <= 0 {
		return "", fmt.Errorf("silence duration must be positive, got %s", d)
	}

	path := filepath.Join(c.config.SilenceDir, fmt.Sprintf("silence_%dms.wav", d.Milliseconds()))
	if validClip(path) {
		return path, nil
	}

	result := c.silence.DoChan(path, func() (any, error) {
		if validClip(path) {
			return path, nil
		}

		data, err := EncodeSilence(d.Seconds(), SampleRate)
		if err != nil {
			return nil, err
		}

		tmp, err := os.CreateTemp(c.config.SilenceDir, ".silence-*.tmp")
		if err != nil {
			return nil, fmt.Errorf("failed to create silence temp file: %w", err)
		}
		tmpPath := tmp.Name()

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to write silence clip: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to close silence clip: %w", err)
		}

		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return nil, fmt.Errorf("failed to install silence clip: %w", err)
		}

		c.logger.Info("Silence clip generated",
			slog.String("path", path),
			slog.Duration("duration", d),
		)
		return path, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-result:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// BuildPlaylist orders segments for concatenation, placing the silence clip
// before every segment except the first. Segments missing on disk are skipped.
func BuildPlaylist(segments []string, silence string) []string {
	playlist := make([]string, 0, len(segments)*2)
	for _, seg := range segments {
		if !fileExists(seg) {
			continue
		}
		if len(playlist) > 0 {
			playlist = append(playlist, silence)
		}
		playlist = append(playlist, seg)
	}
	return playlist
}

// Concatenate merges the session segments with silence gaps into a single
// final WAV in the audio log directory, copying streams without re-encoding.
func (c *Codec) Concatenate(ctx context.Context, segments []string, silence string) (string, error) {
	playlist := BuildPlaylist(segments, silence)
	if len(playlist) == 0 {
		return "", fmt.Errorf("%w: empty playlist", ErrConcatenation)
	}

	listFile, err := os.CreateTemp(c.config.TempDir, "playlist-*.txt")
	if err != nil {
		return "", fmt.Errorf("%w: failed to create playlist: %w", ErrConcatenation, err)
	}
	listPath := listFile.Name()
	defer os.Remove(listPath)

	if _, err := listFile.WriteString(concatDescriptor(playlist)); err != nil {
		listFile.Close()
		return "", fmt.Errorf("%w: failed to write playlist: %w", ErrConcatenation, err)
	}
	if err := listFile.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to close playlist: %w", ErrConcatenation, err)
	}

	outPath := filepath.Join(c.config.LogDir, SegmentName("final", c.now()))

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	stderr, err := c.runner.Run(ctx, c.config.FFmpegPath,
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "concat", "-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outPath,
	)
	if err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("%w: %w", ErrConcatenation, &ExecError{Op: "concat", Stderr: strings.TrimSpace(string(stderr)), Err: err})
	}

	c.logger.Info("Session audio merged",
		slog.String("output", filepath.Base(outPath)),
		slog.Int("playlist_entries", len(playlist)),
	)

	return outPath, nil
}

// ResolveReply maps a reply audio file name to its path in the log directory
func (c *Codec) ResolveReply(name string) (string, error) {
	if !SafeName(name) {
		return "", fmt.Errorf("invalid audio file name %q", name)
	}
	path := filepath.Join(c.config.LogDir, name)
	if !fileExists(path) {
		return "", os.ErrNotExist
	}
	return path, nil
}

// segmentSeq separates names minted within the same microsecond
var segmentSeq atomic.Uint32

// SegmentName builds a per-turn file name from a timestamp, a process-wide
// sequence number and an origin tag, e.g. 20240131_142501_123456_0042_user.wav
func SegmentName(who string, now time.Time) string {
	seq := segmentSeq.Add(1) % 10000
	return fmt.Sprintf("%s_%06d_%04d_%s.wav", now.Format("20060102_150405"), now.Nanosecond()/1000, seq, who)
}

// SafeName reports whether name is a plain WAV file name with no path parts
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return strings.HasSuffix(name, ".wav")
}

// concatDescriptor renders the ffmpeg concat demuxer file list
func concatDescriptor(playlist []string) string {
	var b strings.Builder
	for _, p := range playlist {
		if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(p, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// extensionFor maps a MIME type or bare format name to a file suffix that
// lets ffmpeg probe the container
func extensionFor(hint string) string {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if idx := strings.Index(hint, ";"); idx != -1 {
		hint = strings.TrimSpace(hint[:idx])
	}
	hint = strings.TrimPrefix(hint, "audio/")
	hint = strings.TrimPrefix(hint, ".")

	switch hint {
	case "webm", "ogg", "wav", "mp3", "flac", "m4a", "aac", "opus":
		return "." + hint
	case "mpeg":
		return ".mp3"
	case "x-wav", "wave":
		return ".wav"
	case "mp4", "x-m4a":
		return ".m4a"
	default:
		return ".bin"
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func validClip(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return ValidateWAV(data) == nil
}
