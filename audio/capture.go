// Package audio acquires the microphone and produces fixed-size PCM frames.
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// ErrMicrophoneUnavailable means no usable input source could be acquired.
var ErrMicrophoneUnavailable = errors.New("microphone unavailable")

const (
	// SampleRate is the capture rate expected by both STT engines.
	SampleRate = 16000
	// FrameBytes is 20ms of 16kHz mono s16le. The frame size stays fixed
	// for the whole session so connector timing stays simple.
	FrameBytes = 640
)

// Capture owns the microphone for one session. Frames are emitted until
// Release is called; Release is idempotent.
type Capture struct {
	client *pulse.Client
	stream *pulse.RecordStream

	frames chan []byte
	stopCh chan struct{}

	mu       sync.Mutex
	pending  []byte
	released bool

	inflight sync.WaitGroup
}

// Acquire connects to the sound server and starts a 16kHz mono s16le
// record stream on the default source.
func Acquire() (*Capture, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("meetscribe"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect sound server: %v", ErrMicrophoneUnavailable, err)
	}

	source, err := client.DefaultSource()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: resolve default source: %v", ErrMicrophoneUnavailable, err)
	}

	c := &Capture{
		client: client,
		frames: make(chan []byte, 128),
		stopCh: make(chan struct{}),
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(FrameBytes),
		pulse.RecordMediaName("meetscribe session"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: create record stream: %v", ErrMicrophoneUnavailable, err)
	}

	c.stream = stream
	stream.Start()

	return c, nil
}

// Frames returns the PCM stream as FrameBytes-sized slices. The channel
// is closed by Release.
func (c *Capture) Frames() <-chan []byte {
	return c.frames
}

// Release stops hardware access and closes Frames exactly once.
func (c *Capture) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	close(c.stopCh)
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.inflight.Wait()
	close(c.frames)
}

// onPCM slices raw server buffers into fixed frames.
func (c *Capture) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return 0, io.EOF
	}
	c.inflight.Add(1)

	c.pending = append(c.pending, buffer...)
	frames := make([][]byte, 0, len(c.pending)/FrameBytes)
	for len(c.pending) >= FrameBytes {
		frame := make([]byte, FrameBytes)
		copy(frame, c.pending[:FrameBytes])
		c.pending = c.pending[FrameBytes:]
		frames = append(frames, frame)
	}
	c.mu.Unlock()
	defer c.inflight.Done()

	for _, frame := range frames {
		select {
		case <-c.stopCh:
			return 0, io.EOF
		case c.frames <- frame:
		}
	}

	return len(buffer), nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
