package voiceinput

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultHoldThreshold is how long a press must last to count as
// press-and-hold rather than a tap.
const DefaultHoldThreshold = 300 * time.Millisecond

// Recording is the part of [Controller] a [Gesture] drives.
type Recording interface {
	Start(ctx context.Context) error
	Stop() error
	Toggle(ctx context.Context) error
	IsListening() bool
}

// Gesture turns raw press/release input into recording commands. A tap
// (released before the hold threshold) toggles recording, holding past the
// threshold records until release.
type Gesture struct {
	mu sync.Mutex

	recording Recording
	threshold time.Duration
	afterFunc func(time.Duration, func()) (stop func() bool)

	pressed   bool
	holding   bool
	pressID   uint64
	stopTimer func() bool
	ctx       context.Context
}

type GestureOption func(*Gesture)

func WithHoldThreshold(threshold time.Duration) GestureOption {
	return func(g *Gesture) {
		if threshold > 0 {
			g.threshold = threshold
		}
	}
}

func NewGesture(recording Recording, opts ...GestureOption) *Gesture {
	g := &Gesture{
		recording: recording,
		threshold: DefaultHoldThreshold,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Press registers the start of a press. Repeated presses without a release
// are ignored.
func (g *Gesture) Press(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.pressed {
		return
	}

	g.pressed = true
	g.holding = false
	g.pressID++
	g.ctx = ctx

	id := g.pressID
	g.stopTimer = g.afterFunc(g.threshold, func() { g.hold(id) })
}

// Release registers the end of a press.
func (g *Gesture) Release() {
	g.mu.Lock()
	if !g.pressed {
		g.mu.Unlock()
		return
	}

	g.pressed = false
	if g.stopTimer != nil {
		g.stopTimer()
		g.stopTimer = nil
	}
	holding := g.holding
	g.holding = false
	ctx := g.ctx
	g.mu.Unlock()

	if holding {
		if g.recording.IsListening() {
			if err := g.recording.Stop(); err != nil {
				logger.Warn("failed to stop recording on release", slog.String("error", err.Error()))
			}
		}
		return
	}

	if err := g.recording.Toggle(ctx); err != nil {
		logger.Warn("failed to toggle recording", slog.String("error", err.Error()))
	}
}

func (g *Gesture) hold(id uint64) {
	g.mu.Lock()
	if !g.pressed || g.pressID != id {
		g.mu.Unlock()
		return
	}
	g.holding = true
	ctx := g.ctx
	g.mu.Unlock()

	if g.recording.IsListening() {
		return
	}
	if err := g.recording.Start(ctx); err != nil {
		logger.Warn("failed to start recording on hold", slog.String("error", err.Error()))
	}
}
