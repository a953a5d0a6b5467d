// Package capture records the local microphone with ffmpeg.
//
// One ffmpeg process produces two outputs: an Ogg/Opus stream on stdout for
// the WebRTC track and, when requested, raw s16le PCM on fd 3 for voice
// activity detection.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	opusSampleRate = 48000
	startupGrace   = 250 * time.Millisecond
	stopGrace      = 1200 * time.Millisecond
	drainGrace     = 500 * time.Millisecond
)

// Config describes how the microphone should be captured
type Config struct {
	InputFormat string // ffmpeg demuxer, e.g. pulse, alsa, avfoundation
	InputDevice string
	SampleRate  int  // PCM output rate
	PCM         bool // also emit s16le mono on fd 3
}

func (cfg Config) withDefaults() Config {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return cfg
}

// FFMPEGCapture starts ffmpeg capture sessions
type FFMPEGCapture struct {
	command string
}

func NewFFMPEGCapture(command string) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGCapture{command: command}
}

// Args returns the ffmpeg arguments for cfg
func Args(cfg Config) []string {
	cfg = cfg.withDefaults()

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-map", "0:a",
		"-ac", "2",
		"-ar", strconv.Itoa(opusSampleRate),
		"-c:a", "libopus",
		"-application", "voip",
		"-frame_duration", "20",
		"-page_duration", "20000", // one packet per page
		"-f", "ogg",
		"pipe:1",
	}
	if cfg.PCM {
		args = append(args,
			"-map", "0:a",
			"-ac", "1",
			"-ar", strconv.Itoa(cfg.SampleRate),
			"-f", "s16le",
			"pipe:3",
		)
	}
	return args
}

// Start launches ffmpeg and waits briefly to catch immediate failures such as
// a missing input device
func (c *FFMPEGCapture) Start(ctx context.Context, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()

	cmd := exec.CommandContext(ctx, c.command, Args(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// A plain pipe rather than StdoutPipe: Wait would close that before the
	// last pages are read
	opusReader, opusWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	cmd.Stdout = opusWriter

	var pcmReader, pcmWriter *os.File
	if cfg.PCM {
		pcmReader, pcmWriter, err = os.Pipe()
		if err != nil {
			closeFiles(opusReader, opusWriter)
			return nil, fmt.Errorf("failed to create pcm pipe: %w", err)
		}
		cmd.ExtraFiles = []*os.File{pcmWriter}
	}

	if err := cmd.Start(); err != nil {
		closeFiles(opusReader, opusWriter, pcmReader, pcmWriter)
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	// The child holds its own copies; ours would keep the read side from seeing EOF
	closeFiles(opusWriter, pcmWriter)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		closeFiles(opusReader, pcmReader)
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(startupGrace):
	}

	session := &Session{
		opus:    newPipeReader(opusReader),
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}
	if pcmReader != nil {
		session.pcm = newPipeReader(pcmReader)
	}
	return session, nil
}

// pipeReader marks when its pipe reached EOF so Stop knows it was drained
type pipeReader struct {
	file    *os.File
	eof     chan struct{}
	eofOnce sync.Once
}

func newPipeReader(f *os.File) *pipeReader {
	return &pipeReader{file: f, eof: make(chan struct{})}
}

func (r *pipeReader) Read(p []byte) (int, error) {
	n, err := r.file.Read(p)
	if errors.Is(err, io.EOF) {
		r.eofOnce.Do(func() { close(r.eof) })
	}
	return n, err
}

func (r *pipeReader) Close() error {
	return r.file.Close()
}

// Session is a running capture process
type Session struct {
	opus *pipeReader
	pcm  *pipeReader

	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

// Opus returns the Ogg/Opus stream
func (s *Session) Opus() io.Reader {
	if s.opus == nil {
		return nil
	}
	return s.opus
}

// PCM returns the s16le mono stream, or nil when it was not requested
func (s *Session) PCM() io.Reader {
	if s.pcm == nil {
		return nil
	}
	return s.pcm
}

func (s *Session) Close() error {
	return s.Stop()
}

// Stop interrupts ffmpeg, killing it if it does not exit in time. Output
// written before exit stays readable for up to drainGrace; the pipes are
// closed after that.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		if s.waitErr == nil {
			return
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		deadline := time.Now().Add(drainGrace)
		for _, r := range []*pipeReader{s.opus, s.pcm} {
			if r == nil {
				continue
			}
			select {
			case <-r.eof:
			case <-time.After(time.Until(deadline)):
			}
			if closeErr := r.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	// Interrupted ffmpeg exits non-zero
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
