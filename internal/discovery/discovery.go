// Package discovery answers LAN broadcast probes so clients can find the panel
// without knowing its address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"

	"iot-panel-server/internal/logger"
)

// Message is the probe payload a client broadcasts.
const Message = "iotpaneldiscovery1"

// Listen opens the UDP discovery socket on host:port.
func Listen(host string, port int) (*net.UDPConn, error) {
	udpAddress := fmt.Sprintf("%s:%d", host, port)
	addr, err := net.ResolveUDPAddr("udp4", udpAddress)
	if err != nil {
		return nil, fmt.Errorf("could not resolve UDP address '%s': %w", udpAddress, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen on UDP address '%s': %w", udpAddress, err)
	}
	return conn, nil
}

// Serve answers every probe on conn with the control port until ctx is done.
// panelPort is called per probe so a port chosen by the port walk is reported.
func Serve(ctx context.Context, conn net.PacketConn, panelPort func() int) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	logger.Info("Discovery responder started on UDP address '%s'.", conn.LocalAddr())

	buffer := make([]byte, 1024)
	for {
		n, remoteAddr, err := conn.ReadFrom(buffer)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("Discovery responder stopped.")
				return
			}
			logger.Warn("Discovery: Error reading from UDP: %v", err)
			continue
		}
		if string(buffer[:n]) != Message {
			continue
		}
		logger.Debug("Discovery: Request received from %s", remoteAddr)

		response := fmt.Sprintf(`{"PanelPort":%d}`, panelPort())
		if _, err := conn.WriteTo([]byte(response), remoteAddr); err != nil {
			logger.Error("Discovery: Failed to send response to %s: %v", remoteAddr, err)
		} else {
			logger.Debug("Discovery: Sent response '%s' to %s", response, remoteAddr)
		}
	}
}
