package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

const validConfig = `
mqtt:
  broker_url: "mqtt://localhost:1883"
  username: "test"
  password: "test"

router:
  host: "192.168.1.1"
  username: "admin"
  password: "admin"

homeassistant:
  discovery_prefix: "homeassistant"
  instance_id: "test"

logging:
  level: "info"
  format: "text"
`

func TestLoadConfig_BasicParsing(t *testing.T) {
	tempFile := createTempConfig(t, validConfig)
	defer func() { _ = os.Remove(tempFile) }()

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if config.MQTT.BrokerURL != "mqtt://localhost:1883" {
		t.Errorf("Expected broker URL 'mqtt://localhost:1883', got: %s", config.MQTT.BrokerURL)
	}
	if config.Router.Host != "192.168.1.1" {
		t.Errorf("Expected router host '192.168.1.1', got: %s", config.Router.Host)
	}
	if config.Router.Username != "admin" {
		t.Errorf("Expected router username 'admin', got: %s", config.Router.Username)
	}
	if config.HomeAssistant.InstanceID != "test" {
		t.Errorf("Expected instance_id 'test', got: %s", config.HomeAssistant.InstanceID)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	tempFile := createTempConfig(t, validConfig)

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !*config.Tracking.Enabled {
		t.Error("Expected tracking enabled by default")
	}
	if *config.Tracking.ConsiderHome != 180 {
		t.Errorf("Expected consider_home 180, got: %d", *config.Tracking.ConsiderHome)
	}
	if *config.Tracking.MaxLatestConnected != 5 {
		t.Errorf("Expected max_latest_connected 5, got: %d", *config.Tracking.MaxLatestConnected)
	}
	if config.Intervals.Devices != 30 {
		t.Errorf("Expected devices interval 30, got: %d", config.Intervals.Devices)
	}
	if config.Intervals.Firmware != 21600 {
		t.Errorf("Expected firmware interval 21600, got: %d", config.Intervals.Firmware)
	}
	if config.MQTT.ClientID != "ha-asusrouter-bridge" {
		t.Errorf("Expected default client_id, got: %s", config.MQTT.ClientID)
	}
	if config.MQTT.TopicPrefix != "asusrouter" {
		t.Errorf("Expected default topic_prefix, got: %s", config.MQTT.TopicPrefix)
	}
}

func TestLoadConfig_ExplicitZeroBounds(t *testing.T) {
	configContent := validConfig + `
tracking:
  consider_home: 0
  max_latest_connected: 0
`
	tempFile := createTempConfig(t, configContent)

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if *config.Tracking.ConsiderHome != 0 {
		t.Errorf("Expected consider_home 0 to survive, got: %d", *config.Tracking.ConsiderHome)
	}
	if *config.Tracking.MaxLatestConnected != 0 {
		t.Errorf("Expected max_latest_connected 0 to survive, got: %d", *config.Tracking.MaxLatestConnected)
	}
}

func TestLoadConfig_EventDefaultsAndOverrides(t *testing.T) {
	configContent := validConfig + `
events:
  device_connected: false
  device_disconnected: true
`
	tempFile := createTempConfig(t, configContent)

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if config.Events[router.EventDeviceConnected] {
		t.Error("Expected device_connected override to false")
	}
	if !config.Events[router.EventDeviceDisconnected] {
		t.Error("Expected device_disconnected override to true")
	}
	if !config.Events[router.EventNodeConnected] {
		t.Error("Expected node_connected default to true")
	}
	if config.Events[router.EventDeviceReconnected] {
		t.Error("Expected device_reconnected default to false")
	}
}

func TestLoadConfig_RouterPasswordFromEnvironment(t *testing.T) {
	t.Setenv("ROUTER_PASSWORD", "from-env")

	configContent := `
mqtt:
  broker_url: "mqtt://localhost:1883"

router:
  host: "192.168.1.1"

homeassistant:
  instance_id: "test"
`
	tempFile := createTempConfig(t, configContent)

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if config.Router.Password != "from-env" {
		t.Errorf("Expected router password from environment, got: %s", config.Router.Password)
	}
}

func TestValidateRouter(t *testing.T) {
	tests := []struct {
		name        string
		router      RouterConfig
		expectError bool
	}{
		{"Valid", RouterConfig{Host: "192.168.1.1", Password: "secret"}, false},
		{"Missing host", RouterConfig{Password: "secret"}, true},
		{"Missing password", RouterConfig{Host: "router.local"}, true},
		{"Valid mode", RouterConfig{Host: "router.local", Password: "secret", Mode: "media_bridge"}, false},
		{"Invalid mode", RouterConfig{Host: "router.local", Password: "secret", Mode: "bridge"}, true},
		{"Port out of range", RouterConfig{Host: "router.local", Password: "secret", Port: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{Router: tt.router}
			err := config.validateRouter()

			if tt.expectError && err == nil {
				t.Error("Expected error, but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateTracking(t *testing.T) {
	tests := []struct {
		name         string
		considerHome int
		maxLatest    int
		expectError  bool
	}{
		{"Valid", 180, 5, false},
		{"Zero values", 0, 0, false},
		{"Negative consider_home", -1, 5, true},
		{"Negative max_latest_connected", 180, -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{
				Tracking: TrackingConfig{
					ConsiderHome:       &tt.considerHome,
					MaxLatestConnected: &tt.maxLatest,
				},
			}
			err := config.validateTracking()

			if tt.expectError && err == nil {
				t.Error("Expected error, but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateIntervals(t *testing.T) {
	tests := []struct {
		name        string
		intervals   IntervalsConfig
		expectError bool
	}{
		{"Valid", IntervalsConfig{Devices: 30, Sensors: 30, Firmware: 21600}, false},
		{"Devices too low", IntervalsConfig{Devices: 1, Sensors: 30, Firmware: 21600}, true},
		{"Sensors too low", IntervalsConfig{Devices: 30, Sensors: 1, Firmware: 21600}, true},
		{"Firmware too low", IntervalsConfig{Devices: 30, Sensors: 30, Firmware: 30}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := &Config{Intervals: tt.intervals}
			err := config.validateIntervals()

			if tt.expectError && err == nil {
				t.Error("Expected error, but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error, but got: %v", err)
			}
		})
	}
}

func TestValidateEvents_UnknownEvent(t *testing.T) {
	config := &Config{Events: map[string]bool{"device_vanished": true}}

	err := config.validateEvents()
	if err == nil {
		t.Error("Expected error for unknown event name")
	}
}

func TestMonitorOptions(t *testing.T) {
	configContent := validConfig + `
tracking:
  consider_home: 60
intervals:
  devices: 10
`
	tempFile := createTempConfig(t, configContent)

	config, err := LoadConfig(tempFile)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	options := config.MonitorOptions()

	if options.Host != "192.168.1.1" {
		t.Errorf("Expected host '192.168.1.1', got: %s", options.Host)
	}
	if options.Mode != router.ModeAuto {
		t.Errorf("Expected mode auto, got: %s", options.Mode)
	}
	if !options.TrackDevices {
		t.Error("Expected device tracking enabled")
	}
	if options.ConsiderHome != 60*time.Second {
		t.Errorf("Expected consider_home 60s, got: %s", options.ConsiderHome)
	}
	if options.DeviceInterval != 10*time.Second {
		t.Errorf("Expected device interval 10s, got: %s", options.DeviceInterval)
	}
	if options.SensorInterval != 30*time.Second {
		t.Errorf("Expected sensor interval 30s, got: %s", options.SensorInterval)
	}
	if !options.Events[router.EventDeviceConnected] {
		t.Error("Expected device_connected event enabled")
	}
}

func TestMQTTConfig_IsSecure(t *testing.T) {
	tests := []struct {
		brokerURL string
		expected  bool
	}{
		{"mqtt://localhost:1883", false},
		{"mqtts://localhost:8883", true},
		{"ws://localhost:9001", false},
		{"wss://localhost:9002", true},
		{"tcp://localhost:1883", false},
	}

	for _, tt := range tests {
		t.Run(tt.brokerURL, func(t *testing.T) {
			config := &MQTTConfig{BrokerURL: tt.brokerURL}
			if got := config.IsSecure(); got != tt.expected {
				t.Errorf("IsSecure() = %v, expected %v for URL %s", got, tt.expected, tt.brokerURL)
			}
		})
	}
}

func TestValidateMQTT_MissingBrokerURL(t *testing.T) {
	config := &Config{
		MQTT: MQTTConfig{},
	}

	err := config.validateMQTT()
	if err == nil {
		t.Error("Expected error for missing broker URL")
	}
}

func TestValidateHomeAssistant_MissingDiscoveryPrefix(t *testing.T) {
	config := &Config{
		HomeAssistant: HomeAssistantConfig{},
	}

	err := config.validateHomeAssistant()
	if err == nil {
		t.Error("Expected error for missing discovery prefix")
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()

	tempDir := t.TempDir()
	tempFile := filepath.Join(tempDir, "config.yaml")

	if err := os.WriteFile(tempFile, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}

	return tempFile
}
