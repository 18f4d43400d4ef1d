// Package serial talks to the panel's microcontroller over a USB serial link.
//
// Commands and responses are single JSON objects terminated by a newline. One
// processor goroutine owns the port; callers queue commands on a high or low
// priority channel and wait for the matching response line.
package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"iot-panel-server/internal/logger"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	DefaultBaudRate       = 115200
	DefaultCommandTimeout = 3 * time.Second
	defaultCheckInterval  = 5 * time.Second
	defaultProbeTimeout   = 4 * time.Second
	probeCommand          = `{"get":"version"}`
)

var (
	ErrNotConnected = errors.New("serial port is not open")
	ErrClosed       = errors.New("serial bridge closed")
	ErrNoDevice     = errors.New("could not find panel device on any USB serial port")
)

// Options configures a Bridge.
type Options struct {
	PortName   string
	AutoDetect bool
	BaudRate   int
	// CheckInterval is how often the connection manager checks the link.
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	// OnConnect is called with the port name after the port was opened.
	OnConnect func(portName string)
}

type command struct {
	line     string
	timeout  time.Duration
	response chan<- string
	err      chan<- error
}

// Bridge owns the serial port and serialises all traffic to the device.
type Bridge struct {
	opts  Options
	open  func(name string, mode *serial.Mode) (serial.Port, error)
	ports func() ([]*enumerator.PortDetails, error)

	high chan command
	low  chan command

	mu       sync.Mutex
	port     serial.Port
	portName string
	version  string

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewBridge(opts Options) *Bridge {
	if opts.BaudRate == 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.CheckInterval == 0 {
		opts.CheckInterval = defaultCheckInterval
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	return &Bridge{
		opts:    opts,
		open:    serial.Open,
		ports:   enumerator.GetDetailedPortsList,
		high:    make(chan command),
		low:     make(chan command),
		version: "unknown",
		done:    make(chan struct{}),
	}
}

// Start launches the command processor, makes one synchronous connection
// attempt and then keeps reconnecting in the background until ctx ends or
// Close is called. A failed first attempt is not an error.
func (b *Bridge) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.processCommands(ctx)
	}()

	logger.Info("Performing initial device connection attempt...")
	if b.connect() {
		logger.Info("Initial connection attempt finished successfully.")
		b.fetchVersion(ctx)
	} else {
		logger.Warn("Initial connection attempt failed. Will keep trying in the background.")
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.manageConnection(ctx)
	}()
}

// Close stops the background tasks and closes the port.
func (b *Bridge) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	select {
	case <-b.done:
	default:
		close(b.done)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handleDisconnect()
	return nil
}

func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.port != nil
}

func (b *Bridge) PortName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.portName
}

// FirmwareVersion returns the version reported by the device, or "unknown".
func (b *Bridge) FirmwareVersion() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// SendCommand queues line for the device and waits for one response line.
func (b *Bridge) SendCommand(ctx context.Context, line string, highPriority bool, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = DefaultCommandTimeout
	}
	responseChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	cmd := command{line: line, timeout: timeout, response: responseChan, err: errorChan}

	queue := b.low
	if highPriority {
		queue = b.high
	}
	logger.Debug("Queueing command (high=%t): %s", highPriority, line)

	// The deadline covers the wait for the processor as well as the exchange itself.
	deadline := time.NewTimer(2 * timeout)
	defer deadline.Stop()

	select {
	case queue <- cmd:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-b.done:
		return "", ErrClosed
	case <-deadline.C:
		return "", errors.New("command timed out waiting for the processor")
	}

	select {
	case response := <-responseChan:
		return response, nil
	case err := <-errorChan:
		return "", err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-deadline.C:
		return "", errors.New("command timed out waiting for response from processor")
	}
}

func (b *Bridge) processCommands(ctx context.Context) {
	logger.Info("Serial command processor started.")
	defer logger.Info("Serial command processor stopped.")
	for {
		var cmd command
		select {
		case cmd = <-b.high:
		default:
			select {
			case cmd = <-b.high:
			case cmd = <-b.low:
			case <-ctx.Done():
				return
			}
		}
		b.execute(cmd)
	}
}

func (b *Bridge) execute(cmd command) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.port == nil {
		cmd.err <- ErrNotConnected
		return
	}

	// Unsolicited output (boot messages, debug prints) would otherwise be read as the response.
	drainInputBuffer(b.port)

	logger.Debug("Processing command: %s", cmd.line)
	if _, err := b.port.Write([]byte(cmd.line + "\n")); err != nil {
		logger.Error("Serial write failed: %v. Marking port as disconnected.", err)
		b.handleDisconnect()
		cmd.err <- fmt.Errorf("failed to write to serial port: %w", err)
		return
	}

	response, err := readLine(b.port, cmd.timeout)
	if err != nil {
		logger.Error("Serial read failed: %v. Marking port as disconnected.", err)
		b.handleDisconnect()
		cmd.err <- fmt.Errorf("failed to read from serial port: %w", err)
		return
	}

	response = strings.TrimSpace(response)
	logger.Debug("Received response from device: %s", response)
	cmd.response <- response
}

// drainInputBuffer reads from the port until no more data is available.
func drainInputBuffer(port serial.Port) {
	port.SetReadTimeout(100 * time.Millisecond)
	buf := make([]byte, 1024)
	for {
		n, err := port.Read(buf)
		if err != nil || n < len(buf) {
			return
		}
	}
}

// readLine reads byte by byte until a newline so nothing past the response is consumed.
func readLine(port serial.Port, timeout time.Duration) (string, error) {
	port.SetReadTimeout(timeout)
	var result []byte
	buf := make([]byte, 1)
	start := time.Now()

	for {
		if time.Since(start) > timeout {
			return "", errors.New("read timeout")
		}
		n, err := port.Read(buf)
		if err != nil {
			return "", err
		}
		if n == 0 {
			continue
		}
		if buf[0] == '\n' {
			return string(result), nil
		}
		result = append(result, buf[0])
	}
}

func (b *Bridge) manageConnection(ctx context.Context) {
	logger.Info("Connection manager task started.")
	ticker := time.NewTicker(b.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b.IsConnected() {
			logger.Debug("Connection Manager: Device is connected.")
			continue
		}
		logger.Info("Connection Manager: Device is disconnected. Attempting to connect...")
		if b.connect() {
			b.fetchVersion(ctx)
		}
	}
}

// connect tries the configured port, then auto-detection when enabled.
func (b *Bridge) connect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	target := b.opts.PortName
	if target != "" {
		logger.Info("Trying configured port '%s'.", target)
		b.reconnect(target)
		if b.port != nil {
			return true
		}
		if !b.opts.AutoDetect {
			return false
		}
		logger.Warn("Configured port '%s' failed. Falling back to auto-detection.", target)
	} else if !b.opts.AutoDetect {
		logger.Warn("No serial port configured and auto-detection is off.")
		return false
	}

	found, err := b.FindPort()
	if err != nil {
		logger.Warn("Auto-detection failed: %v", err)
		return false
	}
	logger.Info("Auto-detection found device on port %s. Connecting...", found)
	b.reconnect(found)
	return b.port != nil
}

// reconnect closes the current port and opens name. Must be called with b.mu held.
func (b *Bridge) reconnect(name string) {
	b.handleDisconnect()
	if name == "" {
		return
	}

	logger.Info("Attempting to open serial port: %s", name)
	p, err := b.open(name, &serial.Mode{BaudRate: b.opts.BaudRate})
	if err != nil {
		logger.Error("Failed to open port %s: %v", name, err)
		return
	}
	b.port = p
	b.portName = name
	b.opts.PortName = name
	logger.Info("Successfully opened serial port: %s", name)
	if b.opts.OnConnect != nil {
		b.opts.OnConnect(name)
	}
}

// handleDisconnect closes the port. Must be called with b.mu held.
func (b *Bridge) handleDisconnect() {
	if b.port == nil {
		return
	}
	b.port.Close()
	b.port = nil
}

func (b *Bridge) fetchVersion(ctx context.Context) {
	resp, err := b.SendCommand(ctx, probeCommand, false, 0)
	if err != nil {
		logger.Warn("Could not get firmware version: %v", err)
		return
	}
	var v struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(resp), &v); err != nil || v.Version == "" {
		logger.Warn("Could not parse firmware version response %q: %v", resp, err)
		return
	}
	b.mu.Lock()
	b.version = v.Version
	b.mu.Unlock()
	logger.Info("Firmware version: %s", v.Version)
}

// FindPort probes every USB serial port and returns the first one whose device
// answers the version probe with JSON.
func (b *Bridge) FindPort() (string, error) {
	ports, err := b.ports()
	if err != nil {
		logger.Warn("FindPort: port enumeration returned an error: %v", err)
	}
	if len(ports) == 0 {
		return "", errors.New("no serial ports found on the system")
	}

	logger.Info("Found %d serial ports. Probing for panel device...", len(ports))
	for _, port := range ports {
		if !port.IsUSB {
			logger.Debug("Skipping port %s: Not a USB port.", port.Name)
			continue
		}
		logger.Info("Probing port: %s (VID: %s, PID: %s)", port.Name, port.VID, port.PID)
		if b.probePortWithTimeout(port.Name, b.opts.ProbeTimeout) {
			return port.Name, nil
		}
	}
	return "", ErrNoDevice
}

// probePortWithTimeout guarantees the probed port is closed even when the
// device never answers.
func (b *Bridge) probePortWithTimeout(name string, timeout time.Duration) bool {
	resultChan := make(chan bool, 1)

	var probePort serial.Port
	var probeMutex sync.Mutex

	go func() {
		p, err := b.open(name, &serial.Mode{BaudRate: b.opts.BaudRate})
		if err != nil {
			logger.Warn("Could not open port %s to probe: %v", name, err)
			resultChan <- false
			return
		}
		probeMutex.Lock()
		probePort = p
		probeMutex.Unlock()

		defer func() {
			probeMutex.Lock()
			if probePort != nil {
				probePort.Close()
				probePort = nil
			}
			probeMutex.Unlock()
		}()

		if _, err := p.Write([]byte(probeCommand + "\n")); err != nil {
			logger.Debug("Port %s: Write failed: %v", name, err)
			resultChan <- false
			return
		}
		line, err := readLine(p, timeout/2)
		if err != nil {
			logger.Debug("Port %s: Read failed or timed out: %v", name, err)
			resultChan <- false
			return
		}
		var js json.RawMessage
		if json.Unmarshal([]byte(line), &js) != nil {
			logger.Debug("Port %s: Response was not valid JSON: %s", name, line)
			resultChan <- false
			return
		}
		logger.Info("Successfully probed port: %s", name)
		resultChan <- true
	}()

	select {
	case ok := <-resultChan:
		return ok
	case <-time.After(timeout):
		logger.Warn("Port %s: Probe timed out after %v. Forcing cleanup.", name, timeout)
		probeMutex.Lock()
		if probePort != nil {
			probePort.Close()
			probePort = nil
		}
		probeMutex.Unlock()
		return false
	}
}

// ListPorts returns every serial port the OS reports.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
