// Package recording governs the microphone lifecycle. The capture hardware
// itself lives behind CaptureDevice; this package only owns the state machine
// and the maximum-duration guard.
package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"murmur/internal/logging"
)

// ErrInvalidTransition is returned for out-of-order lifecycle calls.
var ErrInvalidTransition = errors.New("invalid recording transition")

// State of one recording session.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateStopped   State = "stopped"
)

// CaptureDevice abstracts the audio source. Begin opens the stream; End
// closes it and returns everything captured since Begin.
type CaptureDevice interface {
	Begin(ctx context.Context) error
	End() ([]byte, error)
}

// DefaultMaxDuration bounds a single capture.
const DefaultMaxDuration = 2 * time.Minute

// Session is the idle → recording → stopped machine over one CaptureDevice.
// Stopping cancels only capture; a pipeline run already consuming earlier
// audio is unaffected.
type Session struct {
	device      CaptureDevice
	maxDuration time.Duration
	logger      logging.Logger

	mu     sync.Mutex
	state  State
	timer  *time.Timer
	audio  []byte
	forced bool
}

// NewSession builds an idle session. maxDuration <= 0 selects the default.
func NewSession(device CaptureDevice, maxDuration time.Duration, logger logging.Logger) *Session {
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	return &Session{
		device:      device,
		maxDuration: maxDuration,
		logger:      logging.OrNop(logger),
		state:       StateIdle,
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ForceStopped reports whether the last stop was the duration guard.
func (s *Session) ForceStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}

// Start begins capture. Only valid from idle. A timer force-stops the
// capture at the maximum duration so an abandoned session cannot record
// forever.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, s.state)
	}
	if err := s.device.Begin(ctx); err != nil {
		return fmt.Errorf("open capture device: %w", err)
	}
	s.state = StateRecording
	s.forced = false
	s.audio = nil
	s.timer = time.AfterFunc(s.maxDuration, s.forceStop)
	s.logger.Debug("recording started, max duration %s", s.maxDuration)
	return nil
}

// Stop ends capture and returns the audio. Valid from recording, or from
// stopped when the duration guard already ended the capture and its audio is
// still waiting to be collected.
func (s *Session) Stop() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStopped && s.audio != nil {
		audio := s.audio
		s.audio = nil
		return audio, nil
	}
	if s.state != StateRecording {
		return nil, fmt.Errorf("%w: stop while %s", ErrInvalidTransition, s.state)
	}

	s.timer.Stop()
	s.state = StateStopped
	audio, err := s.device.End()
	if err != nil {
		return nil, fmt.Errorf("close capture device: %w", err)
	}
	s.logger.Debug("recording stopped, %d bytes captured", len(audio))
	return audio, nil
}

// Retry rearms a stopped session for another capture, discarding any
// uncollected audio. Not valid while recording.
func (s *Session) Retry() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRecording {
		return fmt.Errorf("%w: retry while %s", ErrInvalidTransition, s.state)
	}
	s.state = StateIdle
	s.audio = nil
	s.forced = false
	return nil
}

// forceStop runs from the duration timer. Audio is retained for the next
// Stop call instead of discarded.
func (s *Session) forceStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.state = StateStopped
	s.forced = true
	audio, err := s.device.End()
	if err != nil {
		s.logger.Warn("force-stop could not close capture device: %v", err)
		return
	}
	s.audio = audio
	s.logger.Info("recording force-stopped at max duration, %d bytes retained", len(audio))
}
