package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-chat/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

var logger = otelslog.NewLogger("github.com/koscakluka/ema-chat/core/audio/portaudio")

// Client is a blocking duplex PortAudio stream usable as both microphone and
// speaker.
type Client struct {
	bufferSize int
	stream     *portaudio.Stream
	streamMu   sync.Mutex

	leftoverAudio []byte
	audioMu       sync.Mutex

	stopCapture context.CancelFunc
	captureMu   sync.Mutex

	in  []int16
	out []int16
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize portaudio: %w", err)
	}

	in := make([]int16, bufferSize)
	out := make([]int16, bufferSize)
	stream, err := portaudio.OpenDefaultStream(1, 1, audio.DefaultSampleRate, bufferSize, in, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to open portaudio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("failed to start portaudio stream: %w", err)
	}

	return &Client{
		bufferSize: bufferSize,
		stream:     stream,
		in:         in,
		out:        out,
	}, nil
}

// StartCapture reads the microphone in the background until StopCapture is
// called. Starting an already running capture replaces the callback.
func (c *Client) StartCapture(ctx context.Context, onAudio func(audio []byte)) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.stopCapture != nil {
		c.stopCapture()
	}
	ctx, c.stopCapture = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			c.streamMu.Lock()
			err := c.stream.Read()
			audioBuffer := bytes.Buffer{}
			_ = binary.Write(&audioBuffer, binary.LittleEndian, c.in)
			c.streamMu.Unlock()
			if err != nil {
				logger.Debug("failed to read from portaudio stream", slog.String("error", err.Error()))
				continue
			}

			if ctx.Err() == nil {
				onAudio(audioBuffer.Bytes())
			}
		}
	}()

	return nil
}

func (c *Client) StopCapture() error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.stopCapture != nil {
		c.stopCapture()
		c.stopCapture = nil
	}
	return nil
}

func (c *Client) Close() {
	_ = c.StopCapture()

	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	_ = c.stream.Stop()
	_ = c.stream.Close()
	_ = portaudio.Terminate()
}

// SendAudio plays audio, it blocks until all complete buffers are written.
func (c *Client) SendAudio(audio []byte) error {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()

	c.leftoverAudio = append(c.leftoverAudio, audio...)
	return c.write(false)
}

func (c *Client) ClearBuffer() {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = nil
}

// Mark flushes the partially filled buffer and calls callback, playback is
// synchronous so everything sent before has been played by then.
func (c *Client) Mark(mark string, callback func(string)) error {
	c.audioMu.Lock()
	err := c.write(true)
	c.audioMu.Unlock()
	if err != nil {
		return err
	}

	go callback(mark)
	return nil
}

// write plays complete buffers of leftover audio, and with flush the padded
// remainder too. Callers must hold audioMu.
func (c *Client) write(flush bool) error {
	bufferBytes := c.bufferSize * 2
	for len(c.leftoverAudio) >= bufferBytes || (flush && len(c.leftoverAudio) > 0) {
		chunk := make([]byte, bufferBytes)
		n := copy(chunk, c.leftoverAudio)
		c.leftoverAudio = c.leftoverAudio[n:]

		c.streamMu.Lock()
		if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, c.out); err != nil {
			c.streamMu.Unlock()
			return fmt.Errorf("failed to decode audio: %w", err)
		}
		err := c.stream.Write()
		c.streamMu.Unlock()
		if err != nil {
			return fmt.Errorf("failed to write to portaudio stream: %w", err)
		}
	}
	return nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return audio.EncodingInfo{
		SampleRate: audio.DefaultSampleRate,
		Format:     audio.EncodingLinear16,
	}
}
