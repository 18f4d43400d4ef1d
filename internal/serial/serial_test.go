package serial

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// fakePort answers each written line through respond.
type fakePort struct {
	mu      sync.Mutex
	in      bytes.Buffer
	written []string
	respond func(line string) string
	closed  bool
	failW   bool
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.in.Len() == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, nil
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failW {
		return 0, errors.New("device unplugged")
	}
	line := strings.TrimSuffix(string(b), "\n")
	p.written = append(p.written, line)
	if p.respond != nil {
		if resp := p.respond(line); resp != "" {
			p.in.WriteString(resp + "\n")
		}
	}
	return len(b), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

func (p *fakePort) SetMode(*serial.Mode) error                           { return nil }
func (p *fakePort) Drain() error                                         { return nil }
func (p *fakePort) ResetInputBuffer() error                              { return nil }
func (p *fakePort) ResetOutputBuffer() error                             { return nil }
func (p *fakePort) SetDTR(bool) error                                    { return nil }
func (p *fakePort) SetRTS(bool) error                                    { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return &serial.ModemStatusBits{}, nil }
func (p *fakePort) SetReadTimeout(time.Duration) error                   { return nil }
func (p *fakePort) Break(time.Duration) error                            { return nil }

func echoFirmware(line string) string {
	switch line {
	case `{"get":"version"}`:
		return `{"version":"1.2"}`
	case `{"get":"temp"}`:
		return `{"temp":21.5}`
	default:
		return `{"ok":1}`
	}
}

func newTestBridge(t *testing.T, ports map[string]*fakePort, opts Options) *Bridge {
	t.Helper()
	opts.CheckInterval = 10 * time.Millisecond
	opts.ProbeTimeout = 200 * time.Millisecond
	b := NewBridge(opts)
	b.open = func(name string, mode *serial.Mode) (serial.Port, error) {
		p, ok := ports[name]
		if !ok {
			return nil, errors.New("no such port")
		}
		p.mu.Lock()
		p.closed = false
		p.mu.Unlock()
		return p, nil
	}
	b.ports = func() ([]*enumerator.PortDetails, error) {
		var list []*enumerator.PortDetails
		for name := range ports {
			list = append(list, &enumerator.PortDetails{Name: name, IsUSB: true})
		}
		return list, nil
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridgeConfiguredPort(t *testing.T) {
	port := &fakePort{respond: echoFirmware}
	var connected string
	b := newTestBridge(t, map[string]*fakePort{"/dev/ttyUSB0": port}, Options{
		PortName:  "/dev/ttyUSB0",
		OnConnect: func(name string) { connected = name },
	})
	b.Start(context.Background())

	if !b.IsConnected() || connected != "/dev/ttyUSB0" {
		t.Fatalf("connected = %v (%q)", b.IsConnected(), connected)
	}
	if v := b.FirmwareVersion(); v != "1.2" {
		t.Errorf("firmware version = %q", v)
	}

	resp, err := b.SendCommand(context.Background(), `{"get":"temp"}`, true, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp != `{"temp":21.5}` {
		t.Errorf("response = %q", resp)
	}
}

func TestBridgeDrainsUnsolicitedOutput(t *testing.T) {
	port := &fakePort{respond: echoFirmware}
	b := newTestBridge(t, map[string]*fakePort{"COM3": port}, Options{PortName: "COM3"})
	b.Start(context.Background())

	port.mu.Lock()
	port.in.WriteString("boot: wifi off\n")
	port.mu.Unlock()

	resp, err := b.SendCommand(context.Background(), `{"get":"temp"}`, false, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp != `{"temp":21.5}` {
		t.Errorf("response = %q, stale output was not drained", resp)
	}
}

func TestBridgeAutoDetect(t *testing.T) {
	silent := &fakePort{}
	panel := &fakePort{respond: echoFirmware}
	b := newTestBridge(t, map[string]*fakePort{"/dev/ttyACM0": silent, "/dev/ttyACM1": panel}, Options{AutoDetect: true})
	b.Start(context.Background())

	if got := b.PortName(); got != "/dev/ttyACM1" {
		t.Errorf("port = %q, want /dev/ttyACM1", got)
	}
}

func TestBridgeNotConnected(t *testing.T) {
	b := newTestBridge(t, map[string]*fakePort{}, Options{PortName: "COM9"})
	b.Start(context.Background())

	_, err := b.SendCommand(context.Background(), `{"get":"temp"}`, true, 100*time.Millisecond)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestBridgeWriteFailureDisconnects(t *testing.T) {
	port := &fakePort{respond: echoFirmware}
	b := newTestBridge(t, map[string]*fakePort{"COM3": port}, Options{PortName: "COM3"})
	b.opts.CheckInterval = time.Hour
	b.Start(context.Background())

	port.mu.Lock()
	port.failW = true
	port.mu.Unlock()

	if _, err := b.SendCommand(context.Background(), `{"get":"temp"}`, true, time.Second); err == nil {
		t.Fatal("expected write error")
	}
	if b.IsConnected() {
		t.Error("bridge still connected after write failure")
	}
}

func TestBridgeReadTimeout(t *testing.T) {
	port := &fakePort{respond: func(line string) string {
		if line == `{"get":"temp"}` {
			return ""
		}
		return echoFirmware(line)
	}}
	b := newTestBridge(t, map[string]*fakePort{"COM3": port}, Options{PortName: "COM3"})
	b.opts.CheckInterval = time.Hour
	b.Start(context.Background())

	if _, err := b.SendCommand(context.Background(), `{"get":"temp"}`, true, 50*time.Millisecond); err == nil {
		t.Fatal("expected read timeout")
	}
}

func TestSendCommandAfterClose(t *testing.T) {
	b := newTestBridge(t, map[string]*fakePort{}, Options{PortName: "COM1"})
	b.Start(context.Background())
	b.Close()

	if _, err := b.SendCommand(context.Background(), `{"get":"temp"}`, true, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}
