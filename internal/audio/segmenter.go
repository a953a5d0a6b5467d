package audio

import "time"

// Segment is one utterance of 16-bit little-endian mono PCM
type Segment struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the playback length of the segment
func (s Segment) Duration() time.Duration {
	return PCMDuration(len(s.PCM), s.SampleRate, 1)
}

// WAV returns the segment wrapped in a RIFF/WAVE container
func (s Segment) WAV() []byte {
	return EncodeWAV(s.PCM, s.SampleRate, 1)
}

// SegmenterConfig holds configuration for utterance segmentation
type SegmenterConfig struct {
	SampleRate      int
	MaxSegmentBytes int // Segments are cut at this size even mid-speech
	PreRollBytes    int // Audio kept from before the detected speech start
	VAD             *VADConfig
}

// Segmenter cuts a continuous PCM stream into speech segments using the VAD
type Segmenter struct {
	config  SegmenterConfig
	vad     *VADDetector
	preroll *RingBuffer
	partial []byte
	current []byte
}

// NewSegmenter creates a segmenter; zero config fields take defaults
func NewSegmenter(config SegmenterConfig) *Segmenter {
	if config.SampleRate <= 0 {
		config.SampleRate = 16000
	}
	if config.MaxSegmentBytes <= 0 {
		config.MaxSegmentBytes = config.SampleRate * 2 * 30
	}
	if config.PreRollBytes <= 0 {
		config.PreRollBytes = config.SampleRate * 2 / 5 // 200ms
	}

	return &Segmenter{
		config:  config,
		vad:     NewVADDetector(config.VAD),
		preroll: NewRingBuffer(config.PreRollBytes),
	}
}

// Feed consumes PCM bytes and returns any segments completed by them
func (s *Segmenter) Feed(pcm []byte) []Segment {
	var segments []Segment

	s.partial = append(s.partial, pcm...)
	frameBytes := s.vad.FrameBytes()

	for len(s.partial) >= frameBytes {
		frame := s.partial[:frameBytes]

		wasSpeaking := s.vad.IsSpeaking()
		speaking, started, ended := s.vad.ProcessFrame(PCMBytesToSamples(frame))

		switch {
		case started:
			s.current = append(s.preroll.Drain(), frame...)
		case wasSpeaking:
			s.current = append(s.current, frame...)
		default:
			s.preroll.Write(frame)
		}

		if ended || (speaking && len(s.current) >= s.config.MaxSegmentBytes) {
			segments = append(segments, s.cut())
		}

		s.partial = s.partial[frameBytes:]
	}

	// Keep the remainder in its own backing array so the input can be reused
	s.partial = append([]byte(nil), s.partial...)

	return segments
}

// Flush returns the in-progress segment, if any, and resets the VAD
func (s *Segmenter) Flush() (Segment, bool) {
	defer s.Reset()

	if len(s.current) == 0 {
		return Segment{}, false
	}
	return s.cut(), true
}

// Reset drops all buffered audio
func (s *Segmenter) Reset() {
	s.vad.Reset()
	s.preroll.Clear()
	s.partial = nil
	s.current = nil
}

func (s *Segmenter) cut() Segment {
	seg := Segment{PCM: s.current, SampleRate: s.config.SampleRate}
	s.current = nil
	return seg
}
