package midimap

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestKeyFoldsNoteOffIntoNoteOn(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chan_ := rapid.IntRange(0, 15).Draw(t, "chan")
		note := rapid.IntRange(0, 127).Draw(t, "note")
		velOn := rapid.IntRange(1, 127).Draw(t, "velOn")
		velOff := rapid.IntRange(0, 127).Draw(t, "velOff")

		onKey := Key(byte(NoteOn|chan_), byte(note))
		offKey := Key(byte(NoteOff|chan_), byte(note))
		assert.Equal(t, onKey, offKey)

		assert.Equal(t, 1.0, Value(byte(NoteOn|chan_), byte(note), byte(velOn)))
		assert.Equal(t, 0.0, Value(byte(NoteOff|chan_), byte(note), byte(velOff)))
	})
}

func TestKeyJSONRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chan1 := rapid.IntRange(1, 16).Draw(t, "chan1")
		note := rapid.IntRange(0, 127).Draw(t, "note")

		raw, err := json.Marshal(map[string]int{"note": note, "chan": chan1})
		require.NoError(t, err)

		key := KeyFromJSON(raw)
		back, err := JSON(key)
		require.NoError(t, err)

		key2 := KeyFromJSON(back)
		assert.Equal(t, key, key2)
	})
}

func TestKeyFromJSONShorthandStrings(t *testing.T) {
	for _, s := range []string{"songpos", "quaterframe", "songsel", "tune", "start", "continue", "stop", "sense", "reset"} {
		raw, err := json.Marshal(s)
		require.NoError(t, err)
		key := KeyFromJSON(raw)
		assert.NotZero(t, key, s)

		back, err := JSON(key)
		require.NoError(t, err)
		var decoded string
		require.NoError(t, json.Unmarshal(back, &decoded))
		assert.Equal(t, s, decoded)
	}
}

func TestKeyUnsupportedBytesAreZero(t *testing.T) {
	assert.EqualValues(t, 0, Key(TimingClock, 0))
	assert.EqualValues(t, 0, Key(SysexStart, 0))
	assert.EqualValues(t, 0, Key(SysexEnd, 0))
}

func TestValuePitchBend(t *testing.T) {
	v := Value(PitchBendChange, 0x7F, 0x3F)
	assert.InDelta(t, 0.5, v, 0.01)
}

func TestValueControlChange(t *testing.T) {
	assert.Equal(t, 0.0, Value(ControlChange, 0, 0))
	assert.InDelta(t, 1.0, Value(ControlChange, 0, 127), 0.001)
}
