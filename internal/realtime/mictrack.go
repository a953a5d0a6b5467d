package realtime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// opusClockRate is the RTP clock of Opus regardless of input rate
const opusClockRate = 48000

var opusTagsSignature = []byte("OpusTags")

// SampleWriter accepts encoded media samples
type SampleWriter interface {
	WriteSample(sample media.Sample) error
}

// Gate decides whether a sample is forwarded or dropped
type Gate func() bool

// PumpOgg reads Ogg/Opus pages from r and writes each page as one sample to w
// while gate allows it. Pages are always consumed so the producer never
// blocks. It returns nil at end of stream.
func PumpOgg(ctx context.Context, r io.Reader, w SampleWriter, gate Gate) (int64, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read Opus header: %w", err)
	}

	var (
		lastGranule uint64
		written     int64
	)

	for {
		if err := ctx.Err(); err != nil {
			return written, nil
		}

		page, header, err := ogg.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return written, nil
			}
			return written, fmt.Errorf("failed to read Ogg page: %w", err)
		}

		if bytes.HasPrefix(page, opusTagsSignature) {
			continue
		}

		sampleCount := header.GranulePosition - lastGranule
		if header.GranulePosition < lastGranule {
			sampleCount = 0
		}
		lastGranule = header.GranulePosition

		if gate != nil && !gate() {
			continue
		}

		duration := time.Duration(sampleCount) * time.Second / opusClockRate
		if err := w.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return written, fmt.Errorf("failed to write microphone sample: %w", err)
		}
		written += int64(len(page))
	}
}

// WriteMicrophone forwards Ogg/Opus pages from r to the outgoing track
func (c *Connection) WriteMicrophone(ctx context.Context, r io.Reader, gate Gate) error {
	written, err := PumpOgg(ctx, r, c.track, gate)
	if c.metrics != nil {
		c.metrics.RecordAudioBytes("outbound", written)
	}
	return err
}
