package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/metrics"
)

const (
	// EchoTimeout bounds the wait for the ultrasonic echo.
	EchoTimeout = 30 * time.Millisecond
	// SpeedOfSound in centimetres per microsecond.
	SpeedOfSound = 0.0343
)

var (
	ErrTimeout  = errors.New("sensor: echo not observed within bound")
	ErrNoPulse  = errors.New("sensor: no echo pulse")
	ErrHardware = errors.New("sensor: hardware fault")
)

// Thermometer performs one temperature measurement cycle in °C.
type Thermometer interface {
	Measure(ctx context.Context) (float64, error)
}

// Ranger drives an ultrasonic distance sensor.
// Echo returns the echo pulse width in microseconds; a negative value means no pulse was seen.
type Ranger interface {
	Trigger(ctx context.Context) error
	Echo(ctx context.Context, timeout time.Duration) (int64, error)
}

// Reading is either a value or a fault. An absent reading is a normal outcome,
// not an error to propagate.
type Reading struct {
	Value float64
	Fault error
}

func Present(v float64) Reading { return Reading{Value: v} }

func Absent(err error) Reading {
	if err == nil {
		err = ErrHardware
	}
	return Reading{Fault: err}
}

// OK reports whether the reading carries a value.
func (r Reading) OK() bool { return r.Fault == nil }

// Format renders the value in its shortest decimal form ("24.13", "23"), or
// fallback when the reading is absent.
func (r Reading) Format(fallback string) string {
	if !r.OK() {
		return fallback
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// CentimetersFromEcho converts a round-trip echo width to a one-way distance,
// rounded to two decimals.
func CentimetersFromEcho(us int64) float64 {
	return math.Round(float64(us)*SpeedOfSound/2*100) / 100
}

// Gateway performs bounded, synchronous reads. No retry is attempted; the next
// poll simply tries again.
type Gateway struct {
	thermo  Thermometer
	ranger  Ranger
	metrics *metrics.Metrics
}

func NewGateway(thermo Thermometer, ranger Ranger, m *metrics.Metrics) *Gateway {
	return &Gateway{thermo: thermo, ranger: ranger, metrics: m}
}

// ReadTemperature never returns an error: every failure becomes an absent reading.
func (g *Gateway) ReadTemperature(ctx context.Context) (r Reading) {
	defer func() {
		if p := recover(); p != nil {
			r = Absent(fmt.Errorf("%w: panic: %v", ErrHardware, p))
		}
		g.record("temperature", r)
	}()

	if err := ctx.Err(); err != nil {
		return Absent(err)
	}
	v, err := g.thermo.Measure(ctx)
	if err != nil {
		return Absent(classify(err))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Absent(fmt.Errorf("%w: invalid measurement %v", ErrHardware, v))
	}
	return Present(v)
}

// ReadDistance fires one trigger pulse and waits at most EchoTimeout for the echo.
func (g *Gateway) ReadDistance(ctx context.Context) (r Reading) {
	defer func() {
		if p := recover(); p != nil {
			r = Absent(fmt.Errorf("%w: panic: %v", ErrHardware, p))
		}
		g.record("distance", r)
	}()

	if err := ctx.Err(); err != nil {
		return Absent(err)
	}
	if err := g.ranger.Trigger(ctx); err != nil {
		return Absent(classify(err))
	}
	us, err := g.ranger.Echo(ctx, EchoTimeout)
	if err != nil {
		return Absent(classify(err))
	}
	if us < 0 {
		return Absent(fmt.Errorf("%w (sentinel %d)", ErrNoPulse, us))
	}
	if time.Duration(us)*time.Microsecond > EchoTimeout {
		return Absent(fmt.Errorf("%w: waited %dus", ErrTimeout, us))
	}
	return Present(CentimetersFromEcho(us))
}

func (g *Gateway) record(name string, r Reading) {
	g.metrics.SensorRead(name, r.OK())
	if !r.OK() {
		logger.Warn("Sensor %s read failed: %v", name, r.Fault)
	}
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrNoPulse), errors.Is(err, ErrHardware):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", ErrHardware, err)
	}
}
