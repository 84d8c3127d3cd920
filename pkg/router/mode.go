package router

import (
	"fmt"
	"strings"
)

// Mode is the operation mode the router reports (or the user forces). It
// gates device tracking, mesh monitoring, the wired-only client filter and
// which sensor categories exist on the device.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeRouter      Mode = "router"
	ModeAccessPoint Mode = "access_point"
	ModeMediaBridge Mode = "media_bridge"
	ModeRepeater    Mode = "repeater"
	ModeAiMeshNode  Mode = "aimesh_node"
)

// ParseMode validates a configuration value. Empty selects auto detection.
func ParseMode(value string) (Mode, error) {
	normalized := Mode(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case ModeAuto, ModeRouter, ModeAccessPoint, ModeMediaBridge, ModeRepeater, ModeAiMeshNode:
		return normalized, nil
	case "":
		return ModeAuto, nil
	default:
		return "", fmt.Errorf("unknown router mode %q", value)
	}
}

// TracksDevices reports whether client tracking and AiMesh monitoring run in
// this mode. In AiMesh-node and repeater mode the parent router owns the
// client list.
func (m Mode) TracksDevices() bool {
	switch m {
	case ModeRouter, ModeAccessPoint, ModeMediaBridge:
		return true
	default:
		return false
	}
}

// WiredClientsOnly reports whether client snapshots are pre-filtered to wired
// entries before reconciliation. Only wired topology matters on a media
// bridge.
func (m Mode) WiredClientsOnly() bool {
	return m == ModeMediaBridge
}

// Sensor categories polled by the monitor.
const (
	CategorySystem     = "system"
	CategoryWAN        = "wan"
	CategoryPorts      = "ports"
	CategoryProtection = "protection"
	CategoryFirmware   = "firmware"
)

// Categories lists the sensor categories available in this mode. WAN and the
// firewall-backed protection toggles only exist when the device actually
// routes.
func (m Mode) Categories() []string {
	switch m {
	case ModeRouter:
		return []string{CategorySystem, CategoryWAN, CategoryPorts, CategoryProtection, CategoryFirmware}
	case ModeAccessPoint, ModeMediaBridge:
		return []string{CategorySystem, CategoryPorts, CategoryFirmware}
	default:
		return []string{CategorySystem, CategoryFirmware}
	}
}

// HasCategory reports whether the given category is available in this mode.
func (m Mode) HasCategory(category string) bool {
	for _, c := range m.Categories() {
		if c == category {
			return true
		}
	}
	return false
}
