// Package transcript owns the interview transcript and the session flags that
// decide when assistant speech becomes visible text.
package transcript

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/interviewer/internal/observability"
	"github.com/lexiqai/interviewer/internal/visualizer"
)

const (
	// DefaultDedupWindow is how long an identical Human line counts as a re-delivery
	DefaultDedupWindow = 2000 * time.Millisecond

	wavePointCount  = 48
	wavePointRadius = 120
)

// DefaultResetDelays are the follow-up passes of the mic-off playback reset
var DefaultResetDelays = []time.Duration{50 * time.Millisecond, 200 * time.Millisecond}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithScheduler overrides how delayed work is run
func WithScheduler(s Scheduler) Option {
	return func(r *Reconciler) { r.scheduler = s }
}

// WithDedupWindow sets the Human re-delivery window
func WithDedupWindow(d time.Duration) Option {
	return func(r *Reconciler) {
		if d > 0 {
			r.dedupWindow = d
		}
	}
}

// WithResetDelays sets the delayed passes of the mic-off reset
func WithResetDelays(delays []time.Duration) Option {
	return func(r *Reconciler) { r.resetDelays = delays }
}

// WithMicControl sets the microphone pipeline the toggle dispatches to
func WithMicControl(mic MicControl) Option {
	return func(r *Reconciler) { r.mic = mic }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// Reconciler is the single authority for the visible transcript and the
// listening, processing, AI-typing and audio-playing flags. Every mutation is
// serialized and followed by the commit rule.
type Reconciler struct {
	mu sync.Mutex

	feed        *visualizer.Feed
	mic         MicControl
	scheduler   Scheduler
	now         func() time.Time
	dedupWindow time.Duration
	resetDelays []time.Duration
	logger      zerolog.Logger

	ready      bool
	flags      Flags
	transcript []Entry
	pending    string
	history    []ChatMessage
	sequence   uint64

	subscribers map[int]chan Snapshot
	nextSubID   int
}

// NewReconciler creates a reconciler that drives the given visualization feed
func NewReconciler(feed *visualizer.Feed, opts ...Option) *Reconciler {
	if feed == nil {
		feed = visualizer.NewFeed()
	}
	r := &Reconciler{
		feed:        feed,
		scheduler:   timerScheduler{},
		now:         time.Now,
		dedupWindow: DefaultDedupWindow,
		resetDelays: DefaultResetDelays,
		logger:      observability.WithComponent("transcript"),
		subscribers: make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed returns the visualization feed driven by the reconciler
func (r *Reconciler) Feed() *visualizer.Feed {
	return r.feed
}

// OnTranscriptReceived handles text from either speaker. Human text is
// appended at once unless it is a re-delivery. AI text replaces the pending
// slot and only becomes visible through the commit rule.
func (r *Reconciler) OnTranscriptReceived(text string, speaker Speaker) {
	if strings.TrimSpace(text) == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if speaker == SpeakerHuman {
		if r.isRedeliveryLocked(text, now) {
			observability.RecordTranscriptDeduplicated()
			r.logger.Debug().Str("text", text).Msg("Dropped re-delivered human transcript")
		} else {
			r.transcript = append(r.transcript, Entry{Text: text, Speaker: SpeakerHuman, Timestamp: now})
		}
	} else {
		if r.pending != "" && r.pending != text {
			observability.RecordPendingOverwrite()
			r.logger.Debug().
				Str("previous", r.pending).
				Str("next", text).
				Msg("Pending AI message overwritten")
		}
		r.pending = text
		// Settle on a later pass so the text is never visible on receipt
		r.scheduler.AfterFunc(0, r.settle)
	}

	r.appendHistoryLocked(text, speaker)
	observability.RecordTranscript(string(speaker))
	r.publishLocked()
}

func (r *Reconciler) isRedeliveryLocked(text string, now time.Time) bool {
	for _, entry := range r.transcript {
		if entry.Speaker == SpeakerHuman &&
			entry.Text == text &&
			!entry.Timestamp.IsZero() &&
			now.Sub(entry.Timestamp) < r.dedupWindow {
			return true
		}
	}
	return false
}

func (r *Reconciler) appendHistoryLocked(text string, speaker Speaker) {
	role := RoleFor(speaker)
	for _, msg := range r.history {
		if msg.Content == text && msg.Role == role {
			return
		}
	}
	r.history = append(r.history, ChatMessage{
		ID:      fmt.Sprintf("%s-%s", speaker, uuid.NewString()),
		Role:    role,
		Content: text,
	})
}

// commitLocked moves the pending AI message into the transcript once audio
// has stopped and no AI text is in flight.
func (r *Reconciler) commitLocked() {
	if r.flags.AudioPlaying || r.pending == "" || r.flags.AITyping {
		return
	}

	r.transcript = append(r.transcript, Entry{Text: r.pending, Speaker: SpeakerAI, Timestamp: r.now()})
	r.pending = ""
	observability.RecordAICommit()
}

func (r *Reconciler) settle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending == "" {
		return
	}
	r.commitLocked()
	if r.pending == "" {
		r.publishLocked()
	}
}

// OnProcessingChange sets the processing flag
func (r *Reconciler) OnProcessingChange(processing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug().Bool("processing", processing).Msg("Processing state changed")
	r.flags.Processing = processing
	r.commitLocked()
	r.publishLocked()
}

// OnAITypingChange sets the AI-typing flag
func (r *Reconciler) OnAITypingChange(typing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flags.AITyping = typing
	r.commitLocked()
	r.publishLocked()
}

// OnAudioPlayingChange sets the audio-playing flag. Playback start guarantees
// a waveform exists; playback stop while not listening drops it.
func (r *Reconciler) OnAudioPlayingChange(playing bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug().Bool("playing", playing).Msg("Audio playing state changed")
	r.flags.AudioPlaying = playing

	if playing {
		r.feed.EnsurePlaceholder(visualizer.PlaceholderSize)
	} else if !r.flags.Listening {
		r.feed.ClearWaveform()
	}

	r.commitLocked()
	r.publishLocked()
}

// OnSessionStatusChange sets the free-form session status
func (r *Reconciler) OnSessionStatusChange(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Debug().Str("status", status).Msg("Session status changed")
	r.flags.SessionStatus = status
	r.publishLocked()
}

// OnAudioSegment feeds a completed audio buffer to the visualization and
// returns its transportable encoding
func (r *Reconciler) OnAudioSegment(buf []byte) string {
	encoded := r.feed.Ingest(buf)

	r.mu.Lock()
	r.publishLocked()
	r.mu.Unlock()

	return encoded
}

// SetReady marks session initialization as complete (or not)
func (r *Reconciler) SetReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ready = ready
	r.publishLocked()
}

// ToggleMic flips listening and dispatches to the microphone control. It is a
// no-op returning false while the session is not ready or a request is in
// flight. Turning the mic off resets playback and visualization at once and
// again after each reset delay, since the stop signal can trail behind.
func (r *Reconciler) ToggleMic() bool {
	r.mu.Lock()

	if !r.ready || r.flags.Processing {
		r.logger.Debug().
			Bool("ready", r.ready).
			Bool("processing", r.flags.Processing).
			Msg("Mic toggle ignored")
		r.mu.Unlock()
		return false
	}

	wasListening := r.flags.Listening
	if wasListening {
		r.resetPlaybackLocked()
		for _, delay := range r.resetDelays {
			r.scheduler.AfterFunc(delay, r.resetPlayback)
		}
	}

	r.flags.Listening = !wasListening
	enabled := r.flags.Listening
	mic := r.mic
	r.publishLocked()
	r.mu.Unlock()

	if mic == nil {
		return true
	}

	if err := mic.SetMicEnabled(enabled); err != nil {
		r.logger.Error().Err(err).Bool("enabled", enabled).Msg("Failed to toggle microphone")
		observability.RecordError("mic_toggle", "transcript")

		r.mu.Lock()
		r.flags.Listening = wasListening
		r.publishLocked()
		r.mu.Unlock()
		return false
	}

	return true
}

func (r *Reconciler) resetPlayback() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetPlaybackLocked()
	r.publishLocked()
}

func (r *Reconciler) resetPlaybackLocked() {
	r.flags.AudioPlaying = false
	r.feed.Reset()
	r.commitLocked()
}

// Snapshot returns a copy of the current state
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Flags returns the current flags
func (r *Reconciler) Flags() Flags {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flags
}

// Transcript returns a copy of the visible transcript
func (r *Reconciler) Transcript() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.transcript...)
}

// Pending returns the AI text waiting for playback to finish
func (r *Reconciler) Pending() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// ChatHistory returns a copy of the chat history
func (r *Reconciler) ChatHistory() []ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChatMessage(nil), r.history...)
}

// StatusLabel returns the display status for the current state
func (r *Reconciler) StatusLabel() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return StatusLabel(r.ready, r.flags)
}

func (r *Reconciler) snapshotLocked() Snapshot {
	snap := Snapshot{
		Sequence:     r.sequence,
		Ready:        r.ready,
		Flags:        r.flags,
		Transcript:   append([]Entry(nil), r.transcript...),
		Pending:      r.pending,
		ChatHistory:  append([]ChatMessage(nil), r.history...),
		AudioLevel:   r.feed.Level(),
		HasWaveform:  r.feed.HasWaveform(),
		Status:       StatusLabel(r.ready, r.flags),
		MicAvailable: r.ready && !r.flags.Processing,
	}
	if r.flags.AudioPlaying {
		snap.WavePoints = r.feed.WavePoints(wavePointCount, wavePointRadius)
	}
	return snap
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers only see the most recent one. Call the returned func
// to unsubscribe.
func (r *Reconciler) Subscribe() (<-chan Snapshot, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++

	ch := make(chan Snapshot, 1)
	ch <- r.snapshotLocked()
	r.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subscribers, id)
			close(ch)
		})
	}
}

func (r *Reconciler) publishLocked() {
	r.sequence++
	if len(r.subscribers) == 0 {
		return
	}

	snap := r.snapshotLocked()
	for _, ch := range r.subscribers {
		select {
		case ch <- snap:
		default:
			// Replace the stale snapshot
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
