package router

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"iot-panel-server/internal/display"
	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/query"
)

//go:embed static/index.html
var indexHTML []byte

func handlePage(ctx context.Context, req Request) (Response, error) {
	return Response{
		Status:  StatusOK,
		Headers: []Header{{"Content-Type", "text/html"}},
		Body:    indexHTML,
	}, nil
}

// handleAPI reads both sensors. The body is built by hand so absent readings
// become null and values keep their shortest decimal form.
func (r *Router) handleAPI(ctx context.Context, req Request) (Response, error) {
	temp := r.sensors.ReadTemperature(ctx)
	dist := r.sensors.ReadDistance(ctx)
	body := fmt.Sprintf(`{"temp":%s,"dist":%s}`, temp.Format("null"), dist.Format("null"))
	return Response{
		Status: StatusOK,
		Headers: []Header{
			{"Content-Type", "application/json"},
			{"Cache-Control", "no-store"},
		},
		Body: []byte(body),
	}, nil
}

func (r *Router) handleLED(on bool) HandlerFunc {
	return func(ctx context.Context, req Request) (Response, error) {
		if err := r.led.Set(on); err != nil {
			return Response{}, fmt.Errorf("set actuator %t: %w", on, err)
		}
		r.metrics.SetActuator(on)
		logger.Info("Actuator switched %s", onOff(on))
		return NoContent(), nil
	}
}

func (r *Router) handleLCDDistance(ctx context.Context, req Request) (Response, error) {
	msg := "Distance: Err"
	if d := r.sensors.ReadDistance(ctx); d.OK() {
		msg = "Distance:" + d.Format("") + "cm"
	}
	if err := r.lcd.WriteLine(0, msg); err != nil {
		return Response{}, err
	}
	return NoContent(), nil
}

func (r *Router) handleLCDTemp(ctx context.Context, req Request) (Response, error) {
	msg := "Temp: Err"
	if t := r.sensors.ReadTemperature(ctx); t.OK() {
		msg = "Temp:" + t.Format("") + "C"
	}
	if err := r.lcd.WriteLine(1, msg); err != nil {
		return Response{}, err
	}
	return NoContent(), nil
}

func (r *Router) handleLCDClear(ctx context.Context, req Request) (Response, error) {
	if err := r.lcd.Clear(); err != nil {
		return Response{}, err
	}
	return NoContent(), nil
}

func (r *Router) handleLCDText(ctx context.Context, req Request) (Response, error) {
	text := strings.TrimSpace(query.Decode(req.Query["msg"]))
	if text == "" {
		text = r.opts.DefaultMessage
	}
	line := lineIndex(req.Query["line"])

	if r.opts.BlockingScroll {
		if err := r.lcd.ScrollLine(ctx, line, text, r.opts.Scroll); err != nil {
			return Response{}, err
		}
		return NoContent(), nil
	}
	if _, err := r.lcd.StartScroll(line, text, r.opts.Scroll); err != nil {
		return Response{}, err
	}
	return NoContent(), nil
}

type statusBody struct {
	LED   bool                   `json:"led"`
	Lines [display.Height]string `json:"lines"`
}

func (r *Router) handleStatus(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(statusBody{LED: r.led.Get(), Lines: r.lcd.Snapshot()})
	if err != nil {
		return Response{}, err
	}
	return Response{
		Status: StatusOK,
		Headers: []Header{
			{"Content-Type", "application/json"},
			{"Cache-Control", "no-store"},
		},
		Body: body,
	}, nil
}

// lineIndex accepts only an all-digit value naming an existing line; anything
// else selects line 0.
func lineIndex(raw string) int {
	if raw == "" {
		return 0
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n >= display.Height {
		return 0
	}
	return n
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
