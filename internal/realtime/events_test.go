package realtime

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/transcript"
)

type transcriptCall struct {
	text    string
	speaker transcript.Speaker
}

type recordingSink struct {
	transcripts []transcriptCall
	playing     []bool
	typing      []bool
	statuses    []string
}

func (s *recordingSink) OnTranscriptReceived(text string, speaker transcript.Speaker) {
	s.transcripts = append(s.transcripts, transcriptCall{text: text, speaker: speaker})
}

func (s *recordingSink) OnAudioPlayingChange(playing bool) { s.playing = append(s.playing, playing) }
func (s *recordingSink) OnAITypingChange(typing bool)      { s.typing = append(s.typing, typing) }
func (s *recordingSink) OnSessionStatusChange(status string) {
	s.statuses = append(s.statuses, status)
}

func TestDispatch_AssistantDelta(t *testing.T) {
	sink := &recordingSink{}

	event, err := Dispatch([]byte(`{"type":"response.audio_transcript.delta","delta":"Welcome"}`), sink)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Type != EventAssistantTranscriptDelta {
		t.Errorf("Unexpected event type %q", event.Type)
	}
	if len(sink.transcripts) != 1 || sink.transcripts[0] != (transcriptCall{"Welcome", transcript.SpeakerAI}) {
		t.Errorf("Expected AI transcript, got %+v", sink.transcripts)
	}
}

func TestDispatch_UserTranscription(t *testing.T) {
	for _, eventType := range []string{EventInputTranscription, EventInputTranscriptionCompleted} {
		sink := &recordingSink{}
		payload := `{"type":"` + eventType + `","transcript":"I have five years of experience"}`

		if _, err := Dispatch([]byte(payload), sink); err != nil {
			t.Fatalf("%s: expected no error, got %v", eventType, err)
		}
		if len(sink.transcripts) != 1 || sink.transcripts[0].speaker != transcript.SpeakerHuman {
			t.Errorf("%s: expected Human transcript, got %+v", eventType, sink.transcripts)
		}
	}
}

func TestDispatch_EmptyTextIgnored(t *testing.T) {
	sink := &recordingSink{}

	Dispatch([]byte(`{"type":"response.audio_transcript.delta","delta":""}`), sink)
	Dispatch([]byte(`{"type":"conversation.item.input_audio_transcription.completed"}`), sink)

	if len(sink.transcripts) != 0 {
		t.Errorf("Expected no transcripts, got %+v", sink.transcripts)
	}
}

func TestDispatch_LifecycleEvents(t *testing.T) {
	sink := &recordingSink{}

	for _, eventType := range []string{
		EventResponseCreated,
		EventOutputAudioStarted,
		EventOutputAudioStopped,
		EventOutputAudioCleared,
		EventResponseDone,
		EventSpeechStarted,
	} {
		if _, err := Dispatch([]byte(`{"type":"`+eventType+`"}`), sink); err != nil {
			t.Fatalf("%s: unexpected error %v", eventType, err)
		}
	}

	if len(sink.playing) != 3 || !sink.playing[0] || sink.playing[1] || sink.playing[2] {
		t.Errorf("Unexpected playing changes %v", sink.playing)
	}
	if len(sink.typing) != 2 || !sink.typing[0] || sink.typing[1] {
		t.Errorf("Unexpected typing changes %v", sink.typing)
	}
	if len(sink.statuses) != 1 || sink.statuses[0] != StatusListening {
		t.Errorf("Unexpected statuses %v", sink.statuses)
	}
}

func TestDispatch_UnknownTypeIgnored(t *testing.T) {
	sink := &recordingSink{}

	event, err := Dispatch([]byte(`{"type":"rate_limits.updated","delta":"x","transcript":"y"}`), sink)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Type != "rate_limits.updated" {
		t.Errorf("Expected event to be returned, got %+v", event)
	}
	if len(sink.transcripts)+len(sink.playing)+len(sink.typing)+len(sink.statuses) != 0 {
		t.Error("Expected unknown event to be ignored")
	}
}

func TestDispatch_MalformedJSON(t *testing.T) {
	sink := &recordingSink{}

	for _, payload := range []string{`{"type":`, `not json`, ``} {
		if _, err := Dispatch([]byte(payload), sink); err == nil {
			t.Errorf("Expected error for %q", payload)
		}
	}
	if len(sink.transcripts) != 0 {
		t.Error("Expected malformed payloads to have no effect")
	}
}

func TestDispatch_ErrorEvent(t *testing.T) {
	sink := &recordingSink{}

	event, err := Dispatch([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"nope"}}`), sink)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if event.Error == nil || event.Error.Message != "nope" {
		t.Errorf("Expected error payload, got %+v", event.Error)
	}
}

func TestConnection_HandleMessageSurvivesMalformedJSON(t *testing.T) {
	sink := &recordingSink{}
	c := &Connection{sink: sink, logger: testLogger()}

	c.handleMessage([]byte(`{{{`))
	c.handleMessage([]byte(`{"type":"response.audio_transcript.delta","delta":"Still here"}`))

	if len(sink.transcripts) != 1 || sink.transcripts[0].text != "Still here" {
		t.Errorf("Expected later messages to be handled, got %+v", sink.transcripts)
	}
}

func TestNewSessionUpdate_WireShape(t *testing.T) {
	payload, err := json.Marshal(NewSessionUpdate())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	expected := `{"type":"session.update","session":{"modalities":["text","audio"]}}`
	if string(payload) != expected {
		t.Errorf("Expected %s, got %s", expected, payload)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
