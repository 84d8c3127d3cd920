package router

import (
	"strings"
	"time"
)

// ConnectionType describes how a client or node is attached to the network.
type ConnectionType int

const (
	ConnectionUnknown ConnectionType = iota
	ConnectionWired
	ConnectionWireless2G
	ConnectionWireless5G
	ConnectionWireless6G
)

func (t ConnectionType) String() string {
	switch t {
	case ConnectionWired:
		return "wired"
	case ConnectionWireless2G:
		return "wireless_2g"
	case ConnectionWireless5G:
		return "wireless_5g"
	case ConnectionWireless6G:
		return "wireless_6g"
	default:
		return "unknown"
	}
}

// ClientSnapshot is one poll cycle's record for a single client. Fields that
// the router did not report are nil and leave the tracked state untouched.
type ClientSnapshot struct {
	MAC         string
	Name        *string
	IP          *string
	Vendor      *string
	Node        *string
	RSSI        *int
	Guest       *bool
	Connection  ConnectionType
	Connected   bool
	ConnectedAt *time.Time
}

// NodeSnapshot is one poll cycle's record for a single AiMesh node.
type NodeSnapshot struct {
	MAC       string
	Alias     *string
	Model     *string
	ProductID *string
	Firmware  *string
	IP        *string
	Parent    *string
	Level     *int
	Connected bool
}

// ClientIdentity is the descriptive view of a tracked client handed to
// consumers: history entries, aggregate lists, tracker attributes and event
// payloads. Unknown fields are empty strings.
type ClientIdentity struct {
	MAC         string
	Name        string
	IP          string
	Vendor      string
	Node        string
	Guest       bool
	Connection  ConnectionType
	ConnectedAt time.Time
}

// Equal reports structural equality. Timestamps compare with time.Equal so
// monotonic clock readings do not leak into the comparison.
func (i ClientIdentity) Equal(other ClientIdentity) bool {
	return i.MAC == other.MAC &&
		i.Name == other.Name &&
		i.IP == other.IP &&
		i.Vendor == other.Vendor &&
		i.Node == other.Node &&
		i.Guest == other.Guest &&
		i.Connection == other.Connection &&
		i.ConnectedAt.Equal(other.ConnectedAt)
}

// Attributes renders the identity as an attribute map for event payloads and
// MQTT attribute topics.
func (i ClientIdentity) Attributes() map[string]any {
	attrs := map[string]any{
		"mac":             i.MAC,
		"name":            i.Name,
		"ip":              i.IP,
		"vendor":          i.Vendor,
		"node":            i.Node,
		"guest":           i.Guest,
		"connection_type": i.Connection.String(),
	}
	if !i.ConnectedAt.IsZero() {
		attrs["connected_at"] = i.ConnectedAt.UTC().Format(time.RFC3339)
	}
	return attrs
}

// NodeIdentity is the descriptive view of a tracked AiMesh node.
type NodeIdentity struct {
	MAC       string
	Alias     string
	Model     string
	ProductID string
	Firmware  string
	IP        string
	Parent    string
	Level     int
	Connected bool
}

func (i NodeIdentity) Equal(other NodeIdentity) bool {
	return i == other
}

func (i NodeIdentity) Attributes() map[string]any {
	return map[string]any{
		"mac":        i.MAC,
		"alias":      i.Alias,
		"model":      i.Model,
		"product_id": i.ProductID,
		"firmware":   i.Firmware,
		"ip":         i.IP,
		"parent":     i.Parent,
		"level":      i.Level,
		"connected":  i.Connected,
	}
}

// Identity describes the monitored router itself.
type Identity struct {
	Model     string
	ProductID string
	Brand     string
	Firmware  string
	MAC       string
	Serial    string
	Mode      Mode
}

// FormatMAC normalizes a hardware address to the canonical colon-separated
// lowercase form. Inputs that do not contain 12 hex digits are returned
// lowercased as-is.
func FormatMAC(mac string) string {
	cleaned := strings.ToLower(mac)
	cleaned = strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(cleaned)
	if len(cleaned) != 12 {
		return strings.ToLower(mac)
	}
	for _, r := range cleaned {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return strings.ToLower(mac)
		}
	}
	var b strings.Builder
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String()
}
