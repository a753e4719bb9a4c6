package session

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no live state exists for a session key
	ErrNotFound = errors.New("session not found")

	// ErrInvalidConfig is returned when a store is missing a required option
	ErrInvalidConfig = errors.New("invalid session store configuration")

	// ErrInvalidStoreType is returned for an unknown store driver
	ErrInvalidStoreType = errors.New("invalid session store type")
)

// Role identifies the author of a turn
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the conversation history
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Segment is a normalized audio file produced during the session
type Segment struct {
	Path   string `json:"path"`
	Origin Role   `json:"origin"` // user or assistant
}

// State is the live state of one conversation session
type State struct {
	Turns         []Turn    `json:"turns"`
	AudioSegments []Segment `json:"audio_segments"`
	StartedAt     time.Time `json:"started_at"`
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a deep copy that shares no slices with s
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	c := *s
	if s.Turns != nil {
		c.Turns = append([]Turn(nil), s.Turns...)
	}
	if s.AudioSegments != nil {
		c.AudioSegments = append([]Segment(nil), s.AudioSegments...)
	}
	return &c
}

// Empty reports whether the state lacks anything worth archiving: no turns,
// no audio, no start time, or no owning user
func (s *State) Empty() bool {
	return s == nil ||
		len(s.Turns) == 0 ||
		len(s.AudioSegments) == 0 ||
		s.StartedAt.IsZero() ||
		s.UserID == ""
}

// SegmentPaths returns the segment file paths in emission order
func (s *State) SegmentPaths() []string {
	paths := make([]string, len(s.AudioSegments))
	for i, seg := range s.AudioSegments {
		paths[i] = seg.Path
	}
	return paths
}
