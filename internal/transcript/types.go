package transcript

import (
	"time"

	"github.com/lexiqai/interviewer/internal/visualizer"
)

// Speaker identifies who produced a transcript entry
type Speaker string

const (
	SpeakerAI    Speaker = "AI"
	SpeakerHuman Speaker = "Human"
)

// ParseSpeaker maps a wire value to a Speaker. Anything that is not "AI" is Human.
func ParseSpeaker(s string) Speaker {
	if s == string(SpeakerAI) {
		return SpeakerAI
	}
	return SpeakerHuman
}

// Role is the chat-history role consumed by the conversational model
type Role string

const (
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// RoleFor returns the chat role for a speaker
func RoleFor(speaker Speaker) Role {
	if speaker == SpeakerAI {
		return RoleAssistant
	}
	return RoleUser
}

// Entry is one visible line of the interview transcript
type Entry struct {
	Text      string    `json:"text"`
	Speaker   Speaker   `json:"speaker"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is a chat-history record, unique on (Content, Role)
type ChatMessage struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Flags are the independent session flags shown by the presentation layer
type Flags struct {
	Listening     bool   `json:"listening"`
	Processing    bool   `json:"processing"`
	AITyping      bool   `json:"ai_typing"`
	AudioPlaying  bool   `json:"audio_playing"`
	SessionStatus string `json:"session_status"`
}

// Status labels, highest priority first
const (
	StatusInitializing = "INITIALIZING INTERVIEW"
	StatusSpeaking     = "INTERVIEWER SPEAKING"
	StatusListening    = "LISTENING TO YOUR ANSWER..."
	StatusIdle         = "READY FOR YOUR RESPONSE"
)

// Snapshot is an immutable copy of the session state
type Snapshot struct {
	Sequence     uint64                 `json:"sequence"`
	Ready        bool                   `json:"ready"`
	Flags        Flags                  `json:"flags"`
	Transcript   []Entry                `json:"transcript"`
	Pending      string                 `json:"pending"`
	ChatHistory  []ChatMessage          `json:"chat_history"`
	AudioLevel   float64                `json:"audio_level"`
	HasWaveform  bool                   `json:"has_waveform"`
	WavePoints   []visualizer.WavePoint `json:"wave_points,omitempty"`
	Status       string                 `json:"status"`
	MicAvailable bool                   `json:"mic_available"`
}

// StatusLabel resolves the display status with priority
// processing > speaking > listening > idle.
func StatusLabel(ready bool, flags Flags) string {
	switch {
	case !ready:
		return StatusInitializing
	case flags.Processing:
		return flags.SessionStatus
	case flags.AudioPlaying:
		return StatusSpeaking
	case flags.Listening:
		return StatusListening
	default:
		return StatusIdle
	}
}

// MicControl starts or stops the underlying microphone pipeline
type MicControl interface {
	SetMicEnabled(enabled bool) error
}

// Scheduler runs fn once after d
type Scheduler interface {
	AfterFunc(d time.Duration, fn func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, fn func()) {
	time.AfterFunc(d, fn)
}
