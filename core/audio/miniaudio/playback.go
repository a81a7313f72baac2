package miniaudio

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-chat/core/audio"
)

type playbackClient struct {
	device *malgo.Device
	buffer playbackBuffer

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format, err := deviceFormat(encodingInfo)
	if err != nil {
		return err
	}
	bytesPerFrame := malgo.SampleSizeInBytes(format)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encodingInfo.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = 1
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encodingInfo.SampleRate / 10) // ~100ms of audio
	config.Periods = 4

	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: func(pOutput, _ []byte, frameCount uint32) {
			c.buffer.Read(pOutput[:int(frameCount)*bytesPerFrame])
		}},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) SendAudio(audio []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	c.buffer.Write(audio)
	return nil
}

func (c *playbackClient) ClearBuffer() {
	c.buffer.Clear()
}

func (c *playbackClient) Mark(mark string, callback func(string)) error {
	c.buffer.Mark(mark, callback)
	return nil
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("device not initialized")
	}

	c.device.Uninit()
	c.device = nil
	c.buffer.Clear()

	return nil
}

// playbackBuffer queues audio for the device and tracks marks placed between
// audio chunks.
type playbackBuffer struct {
	mu    sync.Mutex
	audio []byte
	marks []playbackMark
}

type playbackMark struct {
	name string
	// position is the number of queued bytes that play before the mark.
	position int
	callback func(string)
}

func (b *playbackBuffer) Write(audio []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio = append(b.audio, audio...)
}

// Mark schedules callback to run once everything written so far is played.
func (b *playbackBuffer) Mark(name string, callback func(string)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marks = append(b.marks, playbackMark{name: name, position: len(b.audio), callback: callback})
}

// Clear drops queued audio and pending marks, the marks never fire.
func (b *playbackBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audio = nil
	b.marks = nil
}

// Read fills out with queued audio, padding with silence, and fires the marks
// that have been passed.
func (b *playbackBuffer) Read(out []byte) {
	b.mu.Lock()
	n := copy(out, b.audio)
	clear(out[n:])
	b.audio = b.audio[n:]

	passed := 0
	for i := range b.marks {
		if b.marks[i].position <= n {
			passed++
			continue
		}
		b.marks[i].position -= n
	}
	toCall := b.marks[:passed]
	b.marks = b.marks[passed:]
	b.mu.Unlock()

	if len(toCall) == 0 {
		return
	}
	// Marks must not run on the device thread.
	go func() {
		for _, mark := range toCall {
			mark.callback(mark.name)
		}
	}()
}
