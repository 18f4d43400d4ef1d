// Package display schedules text onto a fixed 16x2 character display.
//
// Two marquee flavours exist. ScrollLine is the blocking loop: it owns the
// caller's goroutine until the text has scrolled for MaxDuration (or one traversal
// when Repeat is false). StartScroll registers a cooperative Marquee that advances one
// frame per Tick, so the caller can interleave other work between frames.
//
// A Scheduler is not safe for concurrent use; it is meant to be driven from a single
// goroutine (the connection listener's loop).
package display

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/metrics"
)

const (
	Width  = 16
	Height = 2
	// Gap is the run of spaces appended to scrolling text before it wraps.
	Gap = 6
)

var ErrLine = errors.New("display: line out of range")

// Device is the character display hardware. WriteLine always receives exactly Width characters.
type Device interface {
	WriteLine(line int, text string) error
	Clear() error
}

type ScrollOptions struct {
	FrameDelay time.Duration
	// MaxDuration stops the marquee once exceeded, mid-cycle if need be. Zero means unbounded.
	MaxDuration time.Duration
	// Repeat keeps scrolling after one full traversal of the text.
	Repeat bool
}

type Scheduler struct {
	dev      Device
	lines    [Height]string
	marquees [Height]*Marquee
	onFrame  func(line int, text string)
	metrics  *metrics.Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewScheduler(dev Device, m *metrics.Metrics) *Scheduler {
	s := &Scheduler{
		dev:     dev,
		metrics: m,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for i := range s.lines {
		s.lines[i] = blank
	}
	return s
}

// OnFrame registers fn to be called with every line written to the device.
func (s *Scheduler) OnFrame(fn func(line int, text string)) {
	s.onFrame = fn
}

// Snapshot returns the current content of both lines.
func (s *Scheduler) Snapshot() [Height]string {
	return s.lines
}

// WriteLine replaces the line with text, truncated or space padded to Width.
// Any marquee running on the line is cancelled first.
func (s *Scheduler) WriteLine(line int, text string) error {
	if err := checkLine(line); err != nil {
		return err
	}
	s.cancel(line)
	return s.render(line, Fit(text))
}

// Clear blanks both lines and cancels every marquee.
func (s *Scheduler) Clear() error {
	for i := range s.marquees {
		s.cancel(i)
	}
	if err := s.dev.Clear(); err != nil {
		return fmt.Errorf("clear display: %w", err)
	}
	for i := range s.lines {
		s.lines[i] = blank
		s.emit(i, blank)
	}
	return nil
}

// ScrollLine scrolls text across line and returns only when the marquee terminates:
// after MaxDuration, after one traversal if Repeat is false, or when ctx is cancelled.
// Text that fits is written once and the call returns without sleeping.
func (s *Scheduler) ScrollLine(ctx context.Context, line int, text string, opts ScrollOptions) error {
	if err := checkLine(line); err != nil {
		return err
	}
	runes := []rune(text)
	if len(runes) <= Width {
		return s.WriteLine(line, text)
	}
	s.cancel(line)

	padded := pad(runes)
	start := s.now()
	cursor := 0
	for {
		if opts.MaxDuration > 0 && s.now().Sub(start) > opts.MaxDuration {
			return nil
		}
		if err := s.render(line, Window(padded, cursor)); err != nil {
			return err
		}
		s.metrics.MarqueeFrame()
		if err := s.sleep(ctx, opts.FrameDelay); err != nil {
			return nil
		}
		cursor = (cursor + 1) % len(padded)
		if !opts.Repeat && cursor == 0 {
			return nil
		}
	}
}

// StartScroll begins a cooperative marquee on line and renders its first frame.
// It returns a nil Marquee when text fits and was written directly.
func (s *Scheduler) StartScroll(line int, text string, opts ScrollOptions) (*Marquee, error) {
	if err := checkLine(line); err != nil {
		return nil, err
	}
	runes := []rune(text)
	if len(runes) <= Width {
		return nil, s.WriteLine(line, text)
	}
	s.cancel(line)

	now := s.now()
	m := &Marquee{
		line:    line,
		padded:  pad(runes),
		opts:    opts,
		started: now,
		next:    now.Add(opts.FrameDelay),
		stop:    make(chan struct{}),
	}
	if err := s.render(line, Window(m.padded, 0)); err != nil {
		return nil, err
	}
	m.frames = 1
	s.metrics.MarqueeFrame()
	s.marquees[line] = m
	logger.Debug("Marquee started on line %d (%d chars, frame %v, max %v)", line, len(runes), opts.FrameDelay, opts.MaxDuration)
	return m, nil
}

// Tick advances every due marquee by one frame. It never sleeps.
func (s *Scheduler) Tick(now time.Time) {
	for line, m := range s.marquees {
		if m == nil {
			continue
		}
		if m.Cancelled() {
			s.marquees[line] = nil
			continue
		}
		if now.Before(m.next) {
			continue
		}
		if !m.advance(now) {
			m.finish()
			s.marquees[line] = nil
			continue
		}
		if err := s.render(line, Window(m.padded, m.cursor)); err != nil {
			logger.Warn("Marquee on line %d stopped: %v", line, err)
			m.finish()
			s.marquees[line] = nil
			continue
		}
		m.frames++
		s.metrics.MarqueeFrame()
	}
}

// Active returns the number of running marquees.
func (s *Scheduler) Active() int {
	n := 0
	for _, m := range s.marquees {
		if m != nil && !m.Cancelled() {
			n++
		}
	}
	return n
}

// Stop cancels all marquees.
func (s *Scheduler) Stop() {
	for i := range s.marquees {
		s.cancel(i)
	}
}

func (s *Scheduler) cancel(line int) {
	if m := s.marquees[line]; m != nil {
		m.Cancel()
		s.marquees[line] = nil
	}
}

func (s *Scheduler) render(line int, text string) error {
	if err := s.dev.WriteLine(line, text); err != nil {
		return fmt.Errorf("write display line %d: %w", line, err)
	}
	s.lines[line] = text
	s.emit(line, text)
	return nil
}

func (s *Scheduler) emit(line int, text string) {
	if s.onFrame != nil {
		s.onFrame(line, text)
	}
}

var blank = strings.Repeat(" ", Width)

// Fit truncates or right-pads text to exactly Width characters.
func Fit(text string) string {
	runes := []rune(text)
	if len(runes) >= Width {
		return string(runes[:Width])
	}
	return text + strings.Repeat(" ", Width-len(runes))
}

// Window returns the Width-character circular window of padded starting at cursor.
func Window(padded []rune, cursor int) string {
	out := make([]rune, Width)
	for k := range out {
		out[k] = padded[(cursor+k)%len(padded)]
	}
	return string(out)
}

func pad(runes []rune) []rune {
	padded := make([]rune, 0, len(runes)+Gap)
	padded = append(padded, runes...)
	for i := 0; i < Gap; i++ {
		padded = append(padded, ' ')
	}
	return padded
}

func checkLine(line int) error {
	if line < 0 || line >= Height {
		return fmt.Errorf("%w: %d", ErrLine, line)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
