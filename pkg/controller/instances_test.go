package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rnbo-oscquery/runner/pkg/audio"
	"github.com/rnbo-oscquery/runner/pkg/config"
	"github.com/rnbo-oscquery/runner/pkg/model"
)

func TestAutoConnectPolicies(t *testing.T) {
	assert := assert.New(t)

	c := &Controller{defaults: config.Defaults{}}
	assert.Empty(c.autoConnectPolicies())

	c.defaults = config.Defaults{AutoConnectAudio: true}
	assert.Equal([]audio.AutoConnect{audio.AutoConnectAudio}, c.autoConnectPolicies())

	c.defaults = config.Defaults{AutoConnectAudio: true, AutoConnectIndexed: true}
	assert.Equal([]audio.AutoConnect{audio.AutoConnectAudioIndexed}, c.autoConnectPolicies())

	c.defaults = config.Defaults{AutoConnectMidi: true}
	assert.Equal([]audio.AutoConnect{audio.AutoConnectMidi}, c.autoConnectPolicies())

	c.defaults = config.Defaults{AutoConnectMidi: true, AutoConnectMidiHardware: true}
	assert.Equal([]audio.AutoConnect{audio.AutoConnectMidiHardware}, c.autoConnectPolicies())

	c.defaults = config.Defaults{AutoConnectAudio: true, AutoConnectMidi: true}
	assert.Equal([]audio.AutoConnect{audio.AutoConnectAudio, audio.AutoConnectMidi}, c.autoConnectPolicies())
}

func TestExtOf(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(".flac", extOf("/a/b/patch.flac"))
	assert.Equal(".WAV", extOf("sample.WAV"))
	assert.Equal("", extOf("noext"))
	assert.Equal("", extOf(""))
}

func TestSetIDOf(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(int64(0), setIDOf(model.SetInfo{}))
	assert.Equal(int64(7), setIDOf(model.SetInfo{Instances: []model.SetInstance{
		{InstanceIndex: 0, SetID: 7},
		{InstanceIndex: 1, SetID: 7},
	}}))
}

func TestWrapJSON(t *testing.T) {
	assert := assert.New(t)

	v, ok, err := wrapJSON([]string{"a", "b"}, nil)
	assert.True(ok)
	assert.NoError(err)
	assert.Equal([]string{"a", "b"}, v)

	v, ok, err = wrapJSON(nil, assert.AnError)
	assert.True(ok)
	assert.Error(err)
	assert.Nil(v)
}

func TestPassthroughProcessSilencesOutputs(t *testing.T) {
	assert := assert.New(t)
	out := [][]float32{{1, 1, 1}, {-1, -1}}
	proc := passthroughProcess()
	events := proc(3, nil, out, nil)
	assert.Nil(events)
	for _, buf := range out {
		for _, s := range buf {
			assert.Equal(float32(0), s)
		}
	}
}
