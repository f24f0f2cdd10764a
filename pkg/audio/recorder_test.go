package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelRingPushDrain(t *testing.T) {
	r := newChannelRing(4)
	assert.True(t, r.pushPeriod([]float32{1, 2, 3, 4}))
	out := r.drain(4)
	assert.Equal(t, []float32{1, 2, 3, 4}, out)
}

func TestChannelRingOverflowRejected(t *testing.T) {
	r := newChannelRing(2) // capacity rounds up to 16
	big := make([]float32, 100)
	assert.False(t, r.pushPeriod(big))
}

func TestChannelAssignment(t *testing.T) {
	assert.Equal(t, channelAssignment(1), channelAssignment(1))
	assert.NotEqual(t, channelAssignment(1), channelAssignment(2))
}

func TestRecorderConfigTimeoutChNilWhenZero(t *testing.T) {
	c := RecorderConfig{TimeoutSeconds: 0}
	assert.Nil(t, c.timeoutCh())
	c2 := RecorderConfig{TimeoutSeconds: 1}
	assert.NotNil(t, c2.timeoutCh())
}
