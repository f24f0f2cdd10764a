package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidBufferSize(t *testing.T) {
	assert.True(t, ValidBufferSize(32))
	assert.True(t, ValidBufferSize(256))
	assert.True(t, ValidBufferSize(1024))
	assert.False(t, ValidBufferSize(1))
	assert.False(t, ValidBufferSize(31))
	assert.False(t, ValidBufferSize(1025))
	assert.False(t, ValidBufferSize(100))
}

func TestBeatTimeZeroBased(t *testing.T) {
	// bar 1, beat 1, tick 0 is the very start: zero beats elapsed.
	assert.Equal(t, 0.0, beatTime(1, 1, 0, 960, 4))
	// bar 2, beat 1 in 4/4 is 4 beats elapsed.
	assert.Equal(t, 4.0, beatTime(2, 1, 0, 960, 4))
	// half a beat into bar 1 beat 2.
	assert.InDelta(t, 1.5, beatTime(1, 2, 480, 960, 4), 0.001)
}

func TestMsToFrames(t *testing.T) {
	assert.EqualValues(t, 0, msToFrames(0, 48000))
	assert.EqualValues(t, 48, msToFrames(1, 48000))
	assert.EqualValues(t, 4800, msToFrames(100, 48000))
}

func TestShouldSkipPort(t *testing.T) {
	assert.True(t, shouldSkipPort("a2j:Midi Through [14]"))
	assert.True(t, shouldSkipPort("Virtual Raw MIDI"))
	assert.False(t, shouldSkipPort("system:midi_capture_1"))
}
