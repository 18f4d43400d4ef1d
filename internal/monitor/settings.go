package monitor

import (
	"encoding/json"
	"net"
	"net/http"

	"iot-panel-server/internal/config"
	"iot-panel-server/internal/logger"
)

// SettingsResponse defines the structure for the GET /api/v1/settings response.
type SettingsResponse struct {
	Config       config.PanelConfig `json:"config"`
	ConfigPath   string             `json:"config_path"`
	AvailableIPs []string           `json:"available_ips"`
}

// HandleGetSettings provides the current configuration and available IP addresses.
func HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	ips, err := getAvailableIPs()
	if err != nil {
		logger.Error("Failed to get available IP addresses: %v", err)
		http.Error(w, "Failed to get IP addresses", http.StatusInternalServerError)
		return
	}
	writeJSON(w, SettingsResponse{
		Config:       config.Get(),
		ConfigPath:   config.Path(),
		AvailableIPs: ips,
	})
}

// HandlePostSettings replaces and saves the configuration. Only logLevel is
// applied immediately; everything else takes effect on restart.
func HandlePostSettings(w http.ResponseWriter, r *http.Request) {
	var newConfig config.PanelConfig
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if err := newConfig.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := config.Update(newConfig); err != nil {
		logger.Error("Failed to save panel config: %v", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}
	logger.SetLevelFromString(newConfig.LogLevel)

	logger.Info("Panel settings updated via API.")
	writeJSON(w, config.Get())
}

// getAvailableIPs returns a list of local IPv4 addresses.
func getAvailableIPs() ([]string, error) {
	ips := []string{"127.0.0.1", "0.0.0.0"}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.String())
			}
		}
	}
	return ips, nil
}
