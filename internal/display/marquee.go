package display

import (
	"sync"
	"time"
)

// Marquee is the state of one cooperative scroll. It is advanced by Scheduler.Tick
// and stops on its own termination policy or when cancelled.
type Marquee struct {
	line    int
	padded  []rune
	cursor  int
	frames  int
	opts    ScrollOptions
	started time.Time
	next    time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     bool
}

// Cancel stops the marquee before its next frame. Safe to call more than once and
// from any goroutine.
func (m *Marquee) Cancel() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Cancelled reports whether Cancel was called or the marquee finished.
func (m *Marquee) Cancelled() bool {
	select {
	case <-m.stop:
		return true
	default:
		return false
	}
}

// Done reports whether the marquee ran to its own termination (not cancelled).
func (m *Marquee) Done() bool { return m.done }

func (m *Marquee) Line() int   { return m.line }
func (m *Marquee) Cursor() int { return m.cursor }
func (m *Marquee) Frames() int { return m.frames }

// advance moves the cursor after a frame delay has elapsed and reports whether
// another frame should be rendered.
func (m *Marquee) advance(now time.Time) bool {
	m.cursor = (m.cursor + 1) % len(m.padded)
	if !m.opts.Repeat && m.cursor == 0 {
		return false
	}
	if m.opts.MaxDuration > 0 && now.Sub(m.started) > m.opts.MaxDuration {
		return false
	}
	m.next = m.next.Add(m.opts.FrameDelay)
	if m.next.Before(now) {
		m.next = now.Add(m.opts.FrameDelay)
	}
	return true
}

func (m *Marquee) finish() {
	m.done = true
	m.Cancel()
}
