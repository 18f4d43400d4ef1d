package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"iot-panel-server/internal/display"
)

// Sender is the part of Bridge a Device needs.
type Sender interface {
	SendCommand(ctx context.Context, line string, highPriority bool, timeout time.Duration) (string, error)
}

// echoOverhead is added to the echo bound to cover the serial round trip.
const echoOverhead = 500 * time.Millisecond

// Device adapts the bridge protocol to the panel's hardware ports: thermometer,
// ranger, actuator and character display.
type Device struct {
	s       Sender
	timeout time.Duration
	led     bool
}

func NewDevice(s Sender) *Device {
	return &Device{s: s, timeout: time.Second}
}

type reply struct {
	Temp    *float64 `json:"temp"`
	Echo    *int64   `json:"echo"`
	LED     *int     `json:"led"`
	OK      int      `json:"ok"`
	Err     string   `json:"err"`
	Version string   `json:"version"`
}

func (d *Device) exchange(ctx context.Context, cmd any, timeout time.Duration) (reply, error) {
	var r reply
	payload, err := json.Marshal(cmd)
	if err != nil {
		return r, fmt.Errorf("encode command: %w", err)
	}
	resp, err := d.s.SendCommand(ctx, string(payload), true, timeout)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(resp), &r); err != nil {
		return r, fmt.Errorf("decode response %q: %w", resp, err)
	}
	if r.Err != "" {
		return r, fmt.Errorf("device error: %s", r.Err)
	}
	return r, nil
}

func (d *Device) Measure(ctx context.Context) (float64, error) {
	r, err := d.exchange(ctx, map[string]string{"get": "temp"}, d.timeout)
	if err != nil {
		return 0, err
	}
	if r.Temp == nil {
		return 0, errors.New("device returned no temperature")
	}
	return *r.Temp, nil
}

func (d *Device) Trigger(ctx context.Context) error {
	r, err := d.exchange(ctx, map[string]int{"trig": 1}, d.timeout)
	if err != nil {
		return err
	}
	if r.OK != 1 {
		return errors.New("trigger not acknowledged")
	}
	return nil
}

// Echo asks the firmware to time the echo pulse; it reports -1 for no pulse
// and -2 when the wait hit the bound.
func (d *Device) Echo(ctx context.Context, timeout time.Duration) (int64, error) {
	cmd := struct {
		Get string `json:"get"`
		US  int64  `json:"us"`
	}{"echo", timeout.Microseconds()}
	r, err := d.exchange(ctx, cmd, timeout+echoOverhead)
	if err != nil {
		return 0, err
	}
	if r.Echo == nil {
		return 0, errors.New("device returned no echo width")
	}
	return *r.Echo, nil
}

func (d *Device) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	cmd := map[string]map[string]int{"set": {"led": v}}
	r, err := d.exchange(context.Background(), cmd, d.timeout)
	if err != nil {
		return err
	}
	if r.LED == nil || *r.LED != v {
		return fmt.Errorf("led state not confirmed: %v", r.LED)
	}
	d.led = on
	return nil
}

// Get returns the last state the device confirmed.
func (d *Device) Get() bool { return d.led }

func (d *Device) WriteLine(line int, text string) error {
	if line < 0 || line >= display.Height {
		return display.ErrLine
	}
	cmd := struct {
		LCD struct {
			L int    `json:"l"`
			T string `json:"t"`
		} `json:"lcd"`
	}{}
	cmd.LCD.L = line
	cmd.LCD.T = text
	return d.ack(cmd)
}

func (d *Device) Clear() error {
	return d.ack(map[string]string{"lcd": "clear"})
}

func (d *Device) ack(cmd any) error {
	r, err := d.exchange(context.Background(), cmd, d.timeout)
	if err != nil {
		return err
	}
	if r.OK != 1 {
		return errors.New("display command not acknowledged")
	}
	return nil
}
