package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rnbo-oscquery/runner/pkg/config"
)

func TestChannelMatches(t *testing.T) {
	assert := assert.New(t)

	assert.False(channelMatches(config.PGNone, 1))
	assert.False(channelMatches("", 1))
	assert.True(channelMatches(config.PGOmni, 1))
	assert.True(channelMatches(config.PGOmni, 16))
	assert.True(channelMatches(config.MidiProgramChangeChannel("1"), 1))
	assert.False(channelMatches(config.MidiProgramChangeChannel("1"), 2))
	assert.False(channelMatches(config.MidiProgramChangeChannel("not-a-number"), 1))
}
