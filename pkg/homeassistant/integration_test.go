package homeassistant

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/config"
	"github.com/miguelangel-nubla/homeassistant-asusrouter/pkg/router"
)

func newTestIntegration() *Integration {
	return &Integration{
		config: &config.HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
			InstanceID:      "test",
		},
		topicPrefix:  "asusrouter",
		version:      "1.0.0",
		trackers:     make(map[string]router.ClientIdentity),
		nodes:        make(map[string]router.NodeIdentity),
		temperatures: make(map[string]routerEntity),
	}
}

func TestGenerateBridgeAvailabilityTopic(t *testing.T) {
	tests := []struct {
		name   string
		config *config.HomeAssistantConfig
	}{
		{
			name: "Basic config",
			config: &config.HomeAssistantConfig{
				DiscoveryPrefix: "homeassistant",
				InstanceID:      "test",
			},
		},
		{
			name: "Custom prefix",
			config: &config.HomeAssistantConfig{
				DiscoveryPrefix: "custom",
				InstanceID:      "instance1",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic := GenerateBridgeAvailabilityTopic(tt.config)

			if !strings.HasPrefix(topic, tt.config.DiscoveryPrefix+"/sensor/") {
				t.Errorf("Expected topic to start with '%s/sensor/', got %s", tt.config.DiscoveryPrefix, topic)
			}

			if !strings.HasSuffix(topic, "/availability") {
				t.Errorf("Expected topic to end with '/availability', got %s", topic)
			}

			if !strings.Contains(topic, tt.config.InstanceID) {
				t.Errorf("Expected topic to contain instance ID '%s', got %s", tt.config.InstanceID, topic)
			}
		})
	}
}

func TestEntityTopics(t *testing.T) {
	integration := newTestIntegration()

	topics := integration.entityTopics("sensor", "my-entity")

	if topics.BaseTopic != "homeassistant/sensor/my-entity" {
		t.Errorf("Unexpected base topic: %s", topics.BaseTopic)
	}
	if topics.ConfigTopic != "homeassistant/sensor/my-entity/config" {
		t.Errorf("Unexpected config topic: %s", topics.ConfigTopic)
	}
	if topics.StateTopic != "homeassistant/sensor/my-entity/state" {
		t.Errorf("Unexpected state topic: %s", topics.StateTopic)
	}
	if topics.AttributesTopic != "homeassistant/sensor/my-entity/attributes" {
		t.Errorf("Unexpected attributes topic: %s", topics.AttributesTopic)
	}
	if topics.CommandTopic != "homeassistant/sensor/my-entity/set" {
		t.Errorf("Unexpected command topic: %s", topics.CommandTopic)
	}
}

func TestEntityIdentifiers(t *testing.T) {
	integration := newTestIntegration()

	if got := integration.bridgeDeviceID(); got != "ha-asusrouter-bridge-test" {
		t.Errorf("Unexpected bridge device ID: %s", got)
	}
	if got := integration.routerDeviceID(); got != "ha-asusrouter-bridge-test-router" {
		t.Errorf("Unexpected router device ID: %s", got)
	}
	if got := integration.routerEntityID("cpu_usage"); got != "ha-asusrouter-bridge-test-router-cpu_usage" {
		t.Errorf("Unexpected router entity ID: %s", got)
	}
	if got := integration.clientTrackerID("AA:BB:CC:DD:EE:FF"); got != "ha-asusrouter-bridge-test-tracker-aabbccddeeff" {
		t.Errorf("Unexpected client tracker ID: %s", got)
	}
	if got := integration.nodeTrackerID("aa:bb:cc:00:11:22"); got != "ha-asusrouter-bridge-test-node-aabbcc001122" {
		t.Errorf("Unexpected node tracker ID: %s", got)
	}
}

func TestCommandAndEventTopics(t *testing.T) {
	integration := newTestIntegration()

	if got := integration.commandTopic(); got != "asusrouter/test/command" {
		t.Errorf("Unexpected command topic: %s", got)
	}
	if got := integration.eventTopic("device_connected"); got != "asusrouter/test/event/device_connected" {
		t.Errorf("Unexpected event topic: %s", got)
	}
}

func TestEntityActiveInMode(t *testing.T) {
	tests := []struct {
		name       string
		entityType string
		mode       router.Mode
		active     bool
	}{
		{"Trackers in router mode", "connected_devices", router.ModeRouter, true},
		{"Trackers in media bridge mode", "connected_devices", router.ModeMediaBridge, true},
		{"No trackers on AiMesh nodes", "connected_devices", router.ModeAiMeshNode, false},
		{"No trackers in repeater mode", "aimesh", router.ModeRepeater, false},
		{"WAN in router mode", "wan", router.ModeRouter, true},
		{"No WAN in access point mode", "wan", router.ModeAccessPoint, false},
		{"CPU in access point mode", "cpu_usage", router.ModeAccessPoint, true},
		{"Firmware on AiMesh nodes", "firmware_update", router.ModeAiMeshNode, true},
		{"No protection in media bridge mode", "parental_control", router.ModeMediaBridge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entity routerEntity
			found := false
			for _, candidate := range routerEntities {
				if candidate.Type == tt.entityType {
					entity = candidate
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("Unknown entity type %s", tt.entityType)
			}

			if got := entityActiveInMode(entity, tt.mode); got != tt.active {
				t.Errorf("Expected active=%v for %s in %s mode, got %v", tt.active, tt.entityType, tt.mode, got)
			}
		})
	}
}

func TestDeviceTrackerConfig_Marshal(t *testing.T) {
	trackerConfig := &DeviceTrackerConfig{
		Name:           "Laptop",
		UniqueID:       "tracker-1",
		TildeTopic:     "homeassistant/device_tracker/tracker-1",
		StateTopic:     "~/state",
		PayloadHome:    "home",
		PayloadNotHome: "not_home",
		SourceType:     "router",
	}

	data, err := json.Marshal(trackerConfig)
	if err != nil {
		t.Fatalf("Failed to marshal tracker config: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal tracker config: %v", err)
	}

	if decoded["~"] != "homeassistant/device_tracker/tracker-1" {
		t.Errorf("Expected tilde topic abbreviation, got %v", decoded["~"])
	}
	if decoded["payload_home"] != "home" {
		t.Errorf("Expected payload_home 'home', got %v", decoded["payload_home"])
	}
	if decoded["source_type"] != "router" {
		t.Errorf("Expected source_type 'router', got %v", decoded["source_type"])
	}
	if _, exists := decoded["device"]; exists {
		t.Error("Expected empty device block to be omitted")
	}
}

func TestBridgeStatus(t *testing.T) {
	integration := newTestIntegration()

	if got := integration.bridgeStatus(); got != "connecting" {
		t.Errorf("Expected status 'connecting' before router info, got %s", got)
	}

	identity := router.Identity{Model: "RT-AX88U", Mode: router.ModeRouter}
	integration.routerInfo = &identity
	integration.routerMode = identity.Mode

	if got := integration.bridgeStatus(); got != "connected" {
		t.Errorf("Expected status 'connected' after router info, got %s", got)
	}
}

func TestBridgeAttributes(t *testing.T) {
	integration := newTestIntegration()
	integration.trackers["aa:bb:cc:dd:ee:ff"] = router.ClientIdentity{MAC: "aa:bb:cc:dd:ee:ff"}
	integration.connectedClients = 1
	identity := router.Identity{Model: "RT-AX88U", Firmware: "3.0.0.4.388_24242", Mode: router.ModeRouter}
	integration.routerInfo = &identity
	integration.routerMode = identity.Mode

	attributes := integration.bridgeAttributes()

	if attributes["tracked_clients"] != 1 {
		t.Errorf("Expected 1 tracked client, got %v", attributes["tracked_clients"])
	}
	if attributes["connected_clients"] != 1 {
		t.Errorf("Expected 1 connected client, got %v", attributes["connected_clients"])
	}
	if attributes["router_model"] != "RT-AX88U" {
		t.Errorf("Expected router model RT-AX88U, got %v", attributes["router_model"])
	}
	if attributes["mode"] != "router" {
		t.Errorf("Expected mode 'router', got %v", attributes["mode"])
	}
}

func TestTrackerName(t *testing.T) {
	named := router.ClientIdentity{MAC: "aa:bb:cc:dd:ee:ff", Name: "Laptop"}
	if got := trackerName(named); got != "Laptop" {
		t.Errorf("Expected name 'Laptop', got %s", got)
	}

	unnamed := router.ClientIdentity{MAC: "aa:bb:cc:dd:ee:ff"}
	if got := trackerName(unnamed); got != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("Expected MAC fallback, got %s", got)
	}
}

func TestNodeName(t *testing.T) {
	aliased := router.NodeIdentity{MAC: "aa:bb:cc:00:11:22", Alias: "Upstairs", Model: "RP-AX56"}
	if got := nodeName(aliased); got != "Upstairs" {
		t.Errorf("Expected alias 'Upstairs', got %s", got)
	}

	modelOnly := router.NodeIdentity{MAC: "aa:bb:cc:00:11:22", Model: "RP-AX56"}
	if got := nodeName(modelOnly); got != "RP-AX56" {
		t.Errorf("Expected model fallback, got %s", got)
	}

	bare := router.NodeIdentity{MAC: "aa:bb:cc:00:11:22"}
	if got := nodeName(bare); got != "aa:bb:cc:00:11:22" {
		t.Errorf("Expected MAC fallback, got %s", got)
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"CPU", "cpu"},
		{"2.4GHz", "2_4ghz"},
		{"5GHz2", "5ghz2"},
		{"  6GHz  ", "6ghz"},
	}

	for _, tt := range tests {
		if got := slugify(tt.input); got != tt.expected {
			t.Errorf("slugify(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestOnOffState(t *testing.T) {
	if got := onOffState(true); got != "ON" {
		t.Errorf("Expected ON, got %s", got)
	}
	if got := onOffState(false); got != "OFF" {
		t.Errorf("Expected OFF, got %s", got)
	}
}
