package controller

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV builds a minimal canonical 16-bit PCM mono WAV fixture, the
// shape decodeWAV expects.
func writeTestWAV(t *testing.T, path string, samples []int16) {
	t.Helper()
	dataLen := len(samples) * 2
	buf := make([]byte, 44+dataLen)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], 44100)
	binary.LittleEndian.PutUint32(buf[28:32], 44100*2)
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(s))
	}
	require.NoError(t, os.WriteFile(path, buf, 0644))
}

func TestDecodeWAVRoundTrips(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "fixture.wav")
	writeTestWAV(t, path, []int16{0, 16384, -16384, 32767})

	samples, channels, err := decodeWAV(path)
	require.NoError(t, err)
	assert.Equal(1, channels)
	require.Len(t, samples, 4)
	assert.InDelta(0, samples[0], 0.001)
	assert.InDelta(0.5, samples[1], 0.001)
	assert.InDelta(-0.5, samples[2], 0.001)
}

func TestDecodeWAVRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav file at all"), 0644))

	_, _, err := decodeWAV(path)
	assert.Error(t, err)
}

func TestFileDecoderRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.ogg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	_, _, err := FileDecoder{}.Decode(path)
	assert.Error(t, err)
}

func TestMD5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.bin")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	sum, err := md5File(path)
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", sum)
}
