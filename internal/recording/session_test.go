package recording

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu       sync.Mutex
	begins   int
	ends     int
	audio    []byte
	beginErr error
	endErr   error
}

func (d *fakeDevice) Begin(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.begins++
	return d.beginErr
}

func (d *fakeDevice) End() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ends++
	return d.audio, d.endErr
}

func (d *fakeDevice) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begins, d.ends
}

func TestStartStopReturnsCapturedAudio(t *testing.T) {
	dev := &fakeDevice{audio: []byte("pcm bytes")}
	s := NewSession(dev, time.Minute, nil)

	require.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateRecording, s.State())

	audio, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm bytes"), audio)
	assert.Equal(t, StateStopped, s.State())

	begins, ends := dev.counts()
	assert.Equal(t, 1, begins)
	assert.Equal(t, 1, ends)
}

func TestMaxDurationForceStops(t *testing.T) {
	dev := &fakeDevice{audio: []byte("cut short")}
	s := NewSession(dev, 20*time.Millisecond, nil)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, time.Second, 5*time.Millisecond)
	assert.True(t, s.ForceStopped())

	// The guard already closed the device; Stop hands over the retained
	// audio without touching the device again.
	audio, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("cut short"), audio)
	_, ends := dev.counts()
	assert.Equal(t, 1, ends)
}

func TestInvalidTransitions(t *testing.T) {
	dev := &fakeDevice{}
	s := NewSession(dev, time.Minute, nil)

	_, err := s.Stop()
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrInvalidTransition)
	assert.ErrorIs(t, s.Retry(), ErrInvalidTransition)

	_, err = s.Stop()
	require.NoError(t, err)
	_, err = s.Stop()
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRetryRearmsStoppedSession(t *testing.T) {
	dev := &fakeDevice{audio: []byte("take one")}
	s := NewSession(dev, time.Minute, nil)

	require.NoError(t, s.Start(context.Background()))
	_, err := s.Stop()
	require.NoError(t, err)

	require.NoError(t, s.Retry())
	assert.Equal(t, StateIdle, s.State())

	dev.mu.Lock()
	dev.audio = []byte("take two")
	dev.mu.Unlock()
	require.NoError(t, s.Start(context.Background()))
	audio, err := s.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("take two"), audio)
}

func TestDeviceFailureKeepsSessionIdle(t *testing.T) {
	dev := &fakeDevice{beginErr: errors.New("mic busy")}
	s := NewSession(dev, time.Minute, nil)

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, s.State())
}
