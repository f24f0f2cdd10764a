package controller

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/mewkiz/flac"
)

// FileDecoder implements instance.DataDecoder, the out-of-scope "audio file
// decoder" collaborator spec.md §4.5/§6 calls libsndfile. It covers the two
// formats the retrieval pack actually gives us a library for (FLAC, via
// mewkiz/flac, the same decoder pkg/audio's recorder pairs with for the
// encode direction) plus a small PCM WAV reader for the §8 S4 dataref-reload
// scenario's plain-WAV fixture. Any other extension is rejected rather than
// guessed at, matching the "decoder is out of scope" boundary.
type FileDecoder struct{}

// Decode reads path and returns interleaved float32 samples plus channel
// count.
func (FileDecoder) Decode(path string) ([]float32, int, error) {
	switch strings.ToLower(extOf(path)) {
	case ".flac":
		return decodeFLAC(path)
	case ".wav":
		return decodeWAV(path)
	default:
		return nil, 0, fmt.Errorf("unsupported dataref file type: %s", path)
	}
}

func extOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 {
		return ""
	}
	return path[i:]
}

func decodeFLAC(path string) ([]float32, int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, 0, err
	}
	defer stream.Close()

	channels := int(stream.Info.NChannels)
	maxVal := float32(int64(1) << (stream.Info.BitsPerSample - 1))
	var out []float32
	for {
		frame, err := stream.ParseNext()
		if err != nil {
			break
		}
		n := len(frame.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for ch := 0; ch < channels; ch++ {
				out = append(out, float32(frame.Subframes[ch].Samples[i])/maxVal)
			}
		}
	}
	return out, channels, nil
}

// decodeWAV reads a canonical 16-bit PCM WAV file. Minimal by design: the
// real decoder (libsndfile) is an external collaborator per spec.md §1; this
// stdlib-only reader exists solely so the §8 S4 scenario's fixture can
// round-trip without pulling in a second audio-container library for a
// format the pack's own examples never decode.
func decodeWAV(path string) ([]float32, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("not a RIFF/WAVE file: %s", path)
	}

	var channels int
	var bitsPerSample int
	var dataStart, dataLen int

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		switch chunkID {
		case "fmt ":
			if body+16 > len(data) {
				return nil, 0, fmt.Errorf("truncated fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			dataStart = body
			dataLen = chunkSize
		}
		pos = body + chunkSize + (chunkSize & 1)
	}
	if channels == 0 || dataLen == 0 {
		return nil, 0, fmt.Errorf("wav missing fmt/data chunks: %s", path)
	}
	if bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bit depth %d in %s", bitsPerSample, path)
	}

	end := dataStart + dataLen
	if end > len(data) {
		end = len(data)
	}
	n := (end - dataStart) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(data[dataStart+i*2 : dataStart+i*2+2]))
		out[i] = float32(s) / 32768.0
	}
	return out, channels, nil
}
