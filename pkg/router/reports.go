package router

import (
	"context"
	"time"
)

// Source is the router-control client the monitor polls. Snapshot and report
// fetches return an error on failure, never a silent empty result; the
// monitor treats any error as a fetch failure for streak handling.
type Source interface {
	Identity(ctx context.Context) (*Identity, error)
	Clients(ctx context.Context) (map[string]ClientSnapshot, error)
	MeshNodes(ctx context.Context) (map[string]NodeSnapshot, error)
	System(ctx context.Context) (*SystemReport, error)
	WAN(ctx context.Context) (*WANReport, error)
	Ports(ctx context.Context) (*PortsReport, error)
	Protection(ctx context.Context) (*ProtectionReport, error)
	Firmware(ctx context.Context) (*FirmwareReport, error)
}

// SystemReport carries the per-poll system readings. Values the firmware did
// not report are nil.
type SystemReport struct {
	CPUUsage     *float64
	RAMUsage     *float64
	RAMTotal     *uint64
	RAMUsed      *uint64
	BootTime     *time.Time
	Uptime       *time.Duration
	Temperatures map[string]float64
	LED          *bool
}

// WANReport carries the WAN link readings. Type is the uplink kind the
// firmware reports, such as dhcp or pppoe.
type WANReport struct {
	Connected *bool
	Type      *string
	IP        *string
	Gateway   *string
	RxBytes   *uint64
	TxBytes   *uint64
}

// PortLink is the state of one physical port.
type PortLink struct {
	Connected bool
	SpeedMbps int
}

// PortsReport maps port labels ("LAN 1", "WAN 0") to their link state.
type PortsReport struct {
	Ports map[string]PortLink
}

// ConnectedCount returns the number of ports with an active link.
func (r *PortsReport) ConnectedCount() int {
	if r == nil {
		return 0
	}
	count := 0
	for _, link := range r.Ports {
		if link.Connected {
			count++
		}
	}
	return count
}

// ProtectionReport carries the firewall-backed feature states.
type ProtectionReport struct {
	ParentalControl      *bool
	ParentalControlRules *int
	PortForwarding       *bool
	PortForwardingRules  *int
}

// FirmwareReport carries the firmware version check result.
type FirmwareReport struct {
	Current         string
	Available       string
	UpdateAvailable bool
}
