// Package hw provides an in-memory stand-in for the panel hardware.
package hw

import (
	"context"
	"strings"
	"sync"
	"time"

	"iot-panel-server/internal/display"
)

// DefaultEcho is the simulated echo width (about 24.13 cm).
const DefaultEcho int64 = 1407

// Sim implements every hardware port. Readings and faults are programmable so
// tests can drive each branch of the gateway and router.
type Sim struct {
	mu sync.Mutex

	temp    float64
	tempErr error

	echo     int64
	echoErr  error
	trigErr  error
	triggers int

	led    bool
	ledErr error

	lines     [display.Height]string
	writes    int
	lcdErr    error
	writeHook func(line int, text string)
}

func NewSim() *Sim {
	s := &Sim{temp: 23.0, echo: DefaultEcho}
	for i := range s.lines {
		s.lines[i] = strings.Repeat(" ", display.Width)
	}
	return s
}

func (s *Sim) SetTemperature(v float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.temp, s.tempErr = v, err
}

// SetEcho sets the echo width returned by the next reads. A negative width
// mimics the pulse library's no-pulse sentinel.
func (s *Sim) SetEcho(us int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.echo, s.echoErr = us, err
}

func (s *Sim) SetTriggerError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trigErr = err
}

func (s *Sim) SetActuatorError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledErr = err
}

func (s *Sim) SetDisplayError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lcdErr = err
}

// OnWrite is called after every successful display write.
func (s *Sim) OnWrite(fn func(line int, text string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeHook = fn
}

func (s *Sim) Measure(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.temp, s.tempErr
}

func (s *Sim) Trigger(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers++
	return s.trigErr
}

// Echo reports the programmed width, or -2 when it exceeds timeout, like the
// pulse timing routine on the real board.
func (s *Sim) Echo(ctx context.Context, timeout time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.echoErr != nil {
		return 0, s.echoErr
	}
	if time.Duration(s.echo)*time.Microsecond > timeout {
		return -2, nil
	}
	return s.echo, nil
}

func (s *Sim) Triggers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers
}

func (s *Sim) Set(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ledErr != nil {
		return s.ledErr
	}
	s.led = on
	return nil
}

func (s *Sim) Get() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.led
}

func (s *Sim) WriteLine(line int, text string) error {
	s.mu.Lock()
	if s.lcdErr != nil {
		s.mu.Unlock()
		return s.lcdErr
	}
	if line < 0 || line >= display.Height {
		s.mu.Unlock()
		return display.ErrLine
	}
	s.lines[line] = text
	s.writes++
	hook := s.writeHook
	s.mu.Unlock()

	if hook != nil {
		hook(line, text)
	}
	return nil
}

func (s *Sim) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lcdErr != nil {
		return s.lcdErr
	}
	for i := range s.lines {
		s.lines[i] = strings.Repeat(" ", display.Width)
	}
	return nil
}

// Lines returns what the simulated display currently shows.
func (s *Sim) Lines() [display.Height]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Writes counts display line writes since creation.
func (s *Sim) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
