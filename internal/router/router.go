// Package router maps a raw request to one of the panel's fixed actions and
// builds the response. Routes are checked in order and the first match wins.
package router

import (
	"context"
	"errors"
	"strings"
	"time"

	"iot-panel-server/internal/display"
	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/metrics"
	"iot-panel-server/internal/sensor"
)

// Actuator is the panel's single on/off output.
type Actuator interface {
	Set(on bool) error
	Get() bool
}

type HandlerFunc func(ctx context.Context, req Request) (Response, error)

type route struct {
	name    string
	pattern string
	exact   bool
	handle  HandlerFunc
}

func (rt route) matches(path string) bool {
	if rt.exact {
		return path == rt.pattern
	}
	return strings.HasPrefix(path, rt.pattern)
}

type Options struct {
	Scroll display.ScrollOptions
	// BlockingScroll makes /lcd/text hold the connection until the marquee ends.
	BlockingScroll bool
	DefaultMessage string
}

func DefaultOptions() Options {
	return Options{
		Scroll: display.ScrollOptions{
			FrameDelay:  220 * time.Millisecond,
			MaxDuration: 8 * time.Second,
			Repeat:      true,
		},
		DefaultMessage: "Hello LCD",
	}
}

type Router struct {
	sensors *sensor.Gateway
	lcd     *display.Scheduler
	led     Actuator
	opts    Options
	metrics *metrics.Metrics
	routes  []route
}

func New(sensors *sensor.Gateway, lcd *display.Scheduler, led Actuator, m *metrics.Metrics, opts Options) *Router {
	if opts.DefaultMessage == "" {
		opts.DefaultMessage = DefaultOptions().DefaultMessage
	}
	r := &Router{sensors: sensors, lcd: lcd, led: led, opts: opts, metrics: m}
	r.routes = []route{
		{"api", "/api", false, r.handleAPI},
		{"on", "/on", true, r.handleLED(true)},
		{"off", "/off", true, r.handleLED(false)},
		{"lcd_distance", "/lcd/distance", false, r.handleLCDDistance},
		{"lcd_temp", "/lcd/temp", false, r.handleLCDTemp},
		{"lcd_clear", "/lcd/clear", false, r.handleLCDClear},
		{"lcd_text", "/lcd/text", false, r.handleLCDText},
		{"status", "/status", true, r.handleStatus},
	}
	return r
}

// Handle serves one raw request. It never fails: handler errors and panics
// become a 500 with body "Error". The second result names the matched route.
func (r *Router) Handle(ctx context.Context, raw []byte) (resp Response, name string) {
	req, err := ParseRequest(raw)
	if errors.Is(err, ErrMalformedRequest) {
		logger.Debug("Malformed request line %q, serving the control page", firstLine(raw))
	}

	handler := HandlerFunc(handlePage)
	name = "page"
	for _, rt := range r.routes {
		if rt.matches(req.Path) {
			handler, name = rt.handle, rt.name
			break
		}
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Handler %s panicked on %q: %v", name, req.Path, p)
			resp = InternalError()
		}
	}()

	resp, err = handler(ctx, req)
	if err != nil {
		logger.Error("Handler %s failed on %q: %v", name, req.Path, err)
		return InternalError(), name
	}
	return resp, name
}

func firstLine(raw []byte) string {
	line, _, _ := strings.Cut(string(raw), "\n")
	return strings.TrimSpace(line)
}
