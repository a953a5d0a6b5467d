package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/lexiqai/interviewer/internal/transcript"
)

// Data channel event types
const (
	EventSessionUpdate               = "session.update"
	EventAssistantTranscriptDelta    = "response.audio_transcript.delta"
	EventInputTranscription          = "conversation.item.input_audio_transcription"
	EventInputTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventOutputAudioStarted          = "output_audio_buffer.started"
	EventOutputAudioStopped          = "output_audio_buffer.stopped"
	EventOutputAudioCleared          = "output_audio_buffer.cleared"
	EventResponseCreated             = "response.created"
	EventResponseDone                = "response.done"
	EventSpeechStarted               = "input_audio_buffer.speech_started"
	EventError                       = "error"
)

// Session status values reported through the sink
const (
	StatusConnecting   = "Connecting..."
	StatusConnected    = "Connected"
	StatusListening    = "Listening"
	StatusDisconnected = "Disconnected"
)

// EventSink receives everything the connection learns from the data channel.
// transcript.Reconciler implements it.
type EventSink interface {
	OnTranscriptReceived(text string, speaker transcript.Speaker)
	OnAudioPlayingChange(playing bool)
	OnAITypingChange(typing bool)
	OnSessionStatusChange(status string)
}

// ServerEvent is the subset of inbound event fields the client reads
type ServerEvent struct {
	Type       string    `json:"type"`
	EventID    string    `json:"event_id,omitempty"`
	Delta      string    `json:"delta,omitempty"`
	Transcript string    `json:"transcript,omitempty"`
	Error      *APIError `json:"error,omitempty"`
}

// APIError is the payload of an "error" event
type APIError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionUpdate is sent once when the data channel opens
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// SessionConfig carries the session fields the client changes
type SessionConfig struct {
	Modalities []string `json:"modalities"`
}

// NewSessionUpdate enables both text and audio output
func NewSessionUpdate() SessionUpdate {
	return SessionUpdate{
		Type:    EventSessionUpdate,
		Session: SessionConfig{Modalities: []string{"text", "audio"}},
	}
}

// Dispatch parses one data channel message and forwards it to the sink.
// It returns the parsed event so callers can log or count it; unknown types
// are returned untouched and otherwise ignored.
func Dispatch(data []byte, sink EventSink) (*ServerEvent, error) {
	var event ServerEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse data channel message: %w", err)
	}

	switch event.Type {
	case EventAssistantTranscriptDelta:
		if event.Delta != "" {
			sink.OnTranscriptReceived(event.Delta, transcript.SpeakerAI)
		}

	case EventInputTranscription, EventInputTranscriptionCompleted:
		if event.Transcript != "" {
			sink.OnTranscriptReceived(event.Transcript, transcript.SpeakerHuman)
		}

	case EventOutputAudioStarted:
		sink.OnAudioPlayingChange(true)

	case EventOutputAudioStopped, EventOutputAudioCleared:
		sink.OnAudioPlayingChange(false)

	case EventResponseCreated:
		sink.OnAITypingChange(true)

	case EventResponseDone:
		sink.OnAITypingChange(false)

	case EventSpeechStarted:
		sink.OnSessionStatusChange(StatusListening)
	}

	return &event, nil
}
