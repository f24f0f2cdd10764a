// Copyright 2020-2021 JackTrip Labs, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audio

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/grafov/m3u8"
	"github.com/lestrrat-go/strftime"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/mewkiz/pkg/pathutil"
	"github.com/xthexder/go-jack"
	"golang.org/x/sys/unix"

	"github.com/rnbo-oscquery/runner/pkg/ringbuf"
)

// BitDepth is the fixed resolution used when encoding recorded audio.
const BitDepth = 16

// FreeSpaceThresholdBytes stops recording once the destination volume has
// less than this much room left.
const FreeSpaceThresholdBytes = 100 * 1024 * 1024

// reportInterval is how often the writer checks free space, drains the
// channel rings into one FLAC frame, and updates the captured-seconds count.
const reportInterval = 100 * time.Millisecond

// RecorderConfig configures one recording run.
type RecorderConfig struct {
	Channels       int
	DestDir        string
	TempDir        string
	FilenamePattern string // strftime pattern, e.g. "capture-%Y%m%d-%H%M%S.flac"
	TimeoutSeconds int     // 0 means no timeout
}

// channelRing is a per-channel lock-free single-producer/single-consumer
// sample queue: the realtime process callback is the producer, the writer
// goroutine the consumer. Sized to period_frames * 8 float32s, matching the
// fixed per-period capacity described for the recorder's ring buffers.
type channelRing struct {
	buf  []float32
	mask uint32
	head uint32
	tail uint32
}

func newChannelRing(periodFrames int) *channelRing {
	capacity := 1
	for capacity < periodFrames*8 {
		capacity <<= 1
	}
	return &channelRing{buf: make([]float32, capacity), mask: uint32(capacity - 1)}
}

func (r *channelRing) pushPeriod(samples []float32) bool {
	head := atomic.LoadUint32(&r.head)
	tail := atomic.LoadUint32(&r.tail)
	if head-tail+uint32(len(samples)) > uint32(len(r.buf)) {
		return false
	}
	for _, s := range samples {
		r.buf[head&r.mask] = s
		head++
	}
	atomic.StoreUint32(&r.head, head)
	return true
}

func (r *channelRing) drain(max int) []float32 {
	head := atomic.LoadUint32(&r.head)
	tail := atomic.LoadUint32(&r.tail)
	avail := int(head - tail)
	if avail > max {
		avail = max
	}
	out := make([]float32, avail)
	for i := 0; i < avail; i++ {
		out[i] = r.buf[tail&r.mask]
		tail++
	}
	atomic.StoreUint32(&r.tail, tail)
	return out
}

// Recorder is the optional JACK recording branch: a separate client owning
// one input port per channel, each backed by a lock-free ring buffer, a
// writer goroutine that interleaves and FLAC-encodes them, and a companion
// m3u8 playlist tracking finalized segments for preview/scrubbing.
type Recorder struct {
	log    logr.Logger
	client *jack.Client
	ports  []*jack.Port
	rings  []*channelRing

	cfg        RecorderConfig
	sampleRate int
	bufferSize int

	mu              sync.Mutex
	active          int32
	fullCount       uint64
	secondsCaptured float64
	startedAt       time.Time
	playlist        *m3u8.MediaPlaylist
	stopCh          chan struct{}
	doneCh          chan struct{}
}

// NewRecorder opens a dedicated "rnbo-record" JACK client with one input
// port per configured channel.
func NewRecorder(log logr.Logger, cfg RecorderConfig) (*Recorder, error) {
	client, status := jack.ClientOpen("rnbo-record", jack.NoStartServer)
	if client == nil || status != 0 {
		return nil, fmt.Errorf("jack client open failed: status %d", status)
	}
	r := &Recorder{log: log.WithName("recorder"), client: client, cfg: cfg}
	r.sampleRate = int(client.GetSampleRate())
	r.bufferSize = int(client.GetBufferSize())
	for i := 0; i < cfg.Channels; i++ {
		p := client.PortRegister(fmt.Sprintf("send_%d", i+1), jack.DEFAULT_AUDIO_TYPE, jack.PortIsInput, 0)
		if p == nil {
			client.Close()
			return nil, fmt.Errorf("failed to register recorder input port %d", i+1)
		}
		r.ports = append(r.ports, p)
		r.rings = append(r.rings, newChannelRing(r.bufferSize))
	}
	if code := client.SetProcessCallback(r.process); code != 0 {
		client.Close()
		return nil, fmt.Errorf("jack set process callback failed: %s", jack.StrError(code))
	}
	playlist, err := m3u8.NewMediaPlaylist(0, uint(FileCountLimit))
	if err != nil {
		client.Close()
		return nil, err
	}
	r.playlist = playlist
	return r, nil
}

// FileCountLimit bounds the number of finalized segments kept in the
// playlist/rotation window.
const FileCountLimit = 10

// process is the realtime callback: it only copies port buffers into the
// per-channel lock-free rings, never allocating per-sample and never
// touching the filesystem or taking a blocking lock.
func (r *Recorder) process(nframes uint32) int {
	if atomic.LoadInt32(&r.active) == 0 {
		return 0
	}
	for i, p := range r.ports {
		samples := p.GetBuffer(nframes)
		if !r.rings[i].pushPeriod(samples) {
			atomic.AddUint64(&r.fullCount, 1)
		}
	}
	return 0
}

// Start activates the client and launches the writer goroutine.
func (r *Recorder) Start() error {
	if code := r.client.Activate(); code != 0 {
		return fmt.Errorf("jack activate failed: %s", jack.StrError(code))
	}
	r.mu.Lock()
	r.startedAt = time.Now()
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()
	atomic.StoreInt32(&r.active, 1)
	go r.writerLoop()
	return nil
}

// Stop deactivates recording and waits for the writer to finalize the
// current segment.
func (r *Recorder) Stop() {
	if !atomic.CompareAndSwapInt32(&r.active, 1, 0) {
		return
	}
	r.mu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
	r.client.Deactivate()
}

// FullCount is the number of periods dropped because a channel ring lacked
// space, exposed at record/full_count.
func (r *Recorder) FullCount() uint64 {
	return atomic.LoadUint64(&r.fullCount)
}

// SecondsCaptured reports elapsed captured duration, updated at roughly 10Hz.
func (r *Recorder) SecondsCaptured() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.secondsCaptured
}

func (r *Recorder) writerLoop() {
	defer close(r.doneCh)

	var frameBuf []frame.Frame
	var enc *flac.Encoder
	var fh *os.File
	var segmentName string

	finalize := func() {
		if enc == nil {
			return
		}
		_ = enc.Close()
		_ = fh.Close()
		finalName := filepath.Join(r.cfg.DestDir, filepath.Base(segmentName))
		if err := os.Rename(segmentName, finalName); err != nil {
			r.log.Error(err, "finalize recorder segment rename failed", "file", segmentName)
		} else {
			seg := &m3u8.MediaSegment{URI: filepath.Base(finalName), Duration: float64(len(frameBuf)*r.bufferSize) / float64(r.sampleRate)}
			_ = r.playlist.AppendSegment(seg)
			r.log.V(1).Info("segment finalized", "stem", pathutil.TrimExt(filepath.Base(finalName)))
		}
		enc, fh = nil, nil
		frameBuf = nil
	}

	newSegment := func() error {
		name, err := strftime.Format(r.cfg.FilenamePattern, time.Now())
		if err != nil {
			return err
		}
		segmentName = filepath.Join(r.cfg.TempDir, name)
		fh, err = os.Create(segmentName)
		if err != nil {
			return err
		}
		info := &meta.StreamInfo{
			BlockSizeMin:  16,
			BlockSizeMax:  65535,
			SampleRate:    uint32(r.sampleRate),
			NChannels:     uint8(r.cfg.Channels),
			BitsPerSample: BitDepth,
		}
		enc, err = flac.NewEncoder(fh, info)
		return err
	}

	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	if err := newSegment(); err != nil {
		r.log.Error(err, "failed to open initial recorder segment")
		return
	}

	for {
		select {
		case <-r.cfg.timeoutCh():
			finalize()
			return
		case <-r.stopCh:
			finalize()
			return
		case <-ticker.C:
			if freeBytes(r.cfg.TempDir) < FreeSpaceThresholdBytes || freeBytes(r.cfg.DestDir) < FreeSpaceThresholdBytes {
				finalize()
				return
			}
			r.drainAndEncode(&frameBuf, enc)
			r.mu.Lock()
			r.secondsCaptured = time.Since(r.startedAt).Seconds()
			r.mu.Unlock()
		}
	}
}

func (r *Recorder) drainAndEncode(frameBuf *[]frame.Frame, enc *flac.Encoder) {
	subframes := make([]*frame.Subframe, len(r.rings))
	n := r.bufferSize
	for i, ring := range r.rings {
		samples := ring.drain(n)
		sub := &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			NSamples:  uint32(len(samples)),
			Samples:   make([]int32, len(samples)),
		}
		for j, s := range samples {
			sub.Samples[j] = int32(s * math.MaxInt16)
		}
		subframes[i] = sub
	}
	hdr := frame.Header{
		BlockSize:     uint16(n),
		SampleRate:    uint32(r.sampleRate),
		Channels:      channelAssignment(len(r.rings)),
		BitsPerSample: BitDepth,
	}
	fr := &frame.Frame{Header: hdr, Subframes: subframes}
	if enc != nil {
		_ = enc.WriteFrame(fr)
	}
	*frameBuf = append(*frameBuf, *fr)
}

func (c RecorderConfig) timeoutCh() <-chan time.Time {
	if c.TimeoutSeconds <= 0 {
		return nil
	}
	return time.After(time.Duration(c.TimeoutSeconds) * time.Second)
}

// channelAssignment maps a channel count to the nearest FLAC channel
// assignment the format defines; anything beyond stereo falls back to
// independent per-channel coding since FLAC has no >2-channel joint mode.
func channelAssignment(n int) frame.Channels {
	switch n {
	case 1:
		return frame.ChannelsMono
	case 2:
		return frame.ChannelsLR
	default:
		return frame.Channels(n - 1)
	}
}

// freeBytes reports free space on the filesystem containing path.
func freeBytes(path string) uint64 {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0
	}
	return st.Bavail * uint64(st.Bsize)
}
