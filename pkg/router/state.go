package router

import "time"

// Transition is the connection-state change one update produced.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionConnected
	TransitionDisconnected
)

// TrackedClient is the retained state for one client MAC. It is created the
// first time the MAC appears in a snapshot and is only ever removed by an
// explicit tracker-removal request; absence from a snapshot means "could not
// refresh", not removal.
type TrackedClient struct {
	identity     ClientIdentity
	rssi         *int
	connected    bool
	lastActivity time.Time
}

// NewTrackedClient creates empty state for a client MAC.
func NewTrackedClient(mac string) *TrackedClient {
	return &TrackedClient{identity: ClientIdentity{MAC: mac}}
}

// Update merges a snapshot record into the tracked state and returns the
// connection transition it caused.
//
// With a record present, reported fields overwrite the kept ones and nil
// fields leave them alone. With the record absent the client stays connected
// until its last activity is older than considerHome, then flips to
// disconnected; an already-disconnected client is left untouched.
func (c *TrackedClient) Update(snapshot *ClientSnapshot, considerHome time.Duration, now time.Time) Transition {
	if snapshot == nil {
		if c.connected && now.Sub(c.lastActivity) > considerHome {
			c.connected = false
			return TransitionDisconnected
		}
		return TransitionNone
	}

	c.merge(snapshot)

	wasConnected := c.connected
	c.connected = snapshot.Connected

	if c.connected {
		c.lastActivity = now
		if !wasConnected {
			if snapshot.ConnectedAt != nil {
				c.identity.ConnectedAt = *snapshot.ConnectedAt
			} else {
				c.identity.ConnectedAt = now.UTC()
			}
			return TransitionConnected
		}
		return TransitionNone
	}

	if wasConnected {
		return TransitionDisconnected
	}
	return TransitionNone
}

func (c *TrackedClient) merge(snapshot *ClientSnapshot) {
	if snapshot.Name != nil {
		c.identity.Name = *snapshot.Name
	}
	if snapshot.IP != nil {
		c.identity.IP = *snapshot.IP
	}
	if snapshot.Vendor != nil {
		c.identity.Vendor = *snapshot.Vendor
	}
	if snapshot.Node != nil {
		c.identity.Node = *snapshot.Node
	}
	if snapshot.Guest != nil {
		c.identity.Guest = *snapshot.Guest
	}
	if snapshot.Connection != ConnectionUnknown {
		c.identity.Connection = snapshot.Connection
	}
	if snapshot.RSSI != nil {
		c.rssi = snapshot.RSSI
	}
}

// Identity returns a copy of the descriptive state.
func (c *TrackedClient) Identity() ClientIdentity { return c.identity }

// Connected reports the current connection state.
func (c *TrackedClient) Connected() bool { return c.connected }

// LastActivity is the time of the last snapshot that reported the client
// connected.
func (c *TrackedClient) LastActivity() time.Time { return c.lastActivity }

// RSSI returns the last reported signal strength, nil when never reported.
func (c *TrackedClient) RSSI() *int { return c.rssi }

// TrackedNode is the retained state for one AiMesh node MAC. Unlike clients,
// a node missing from a snapshot keeps its last known link state: the mesh
// may simply have failed to report it, and declaring a backhaul down on
// silence alone causes false alarms.
type TrackedNode struct {
	identity NodeIdentity
}

// NewTrackedNode creates empty state for a node MAC.
func NewTrackedNode(mac string) *TrackedNode {
	return &TrackedNode{identity: NodeIdentity{MAC: mac}}
}

// Update merges a snapshot record into the tracked state and returns the
// mesh-link transition it caused. An absent record never changes anything.
func (n *TrackedNode) Update(snapshot *NodeSnapshot) Transition {
	if snapshot == nil {
		return TransitionNone
	}

	if snapshot.Alias != nil {
		n.identity.Alias = *snapshot.Alias
	}
	if snapshot.Model != nil {
		n.identity.Model = *snapshot.Model
	}
	if snapshot.ProductID != nil {
		n.identity.ProductID = *snapshot.ProductID
	}
	if snapshot.Firmware != nil {
		n.identity.Firmware = *snapshot.Firmware
	}
	if snapshot.IP != nil {
		n.identity.IP = *snapshot.IP
	}
	if snapshot.Parent != nil {
		n.identity.Parent = *snapshot.Parent
	}
	if snapshot.Level != nil {
		n.identity.Level = *snapshot.Level
	}

	wasConnected := n.identity.Connected
	n.identity.Connected = snapshot.Connected

	if snapshot.Connected && !wasConnected {
		return TransitionConnected
	}
	if !snapshot.Connected && wasConnected {
		return TransitionDisconnected
	}
	return TransitionNone
}

// Identity returns a copy of the descriptive state.
func (n *TrackedNode) Identity() NodeIdentity { return n.identity }

// Connected reports the current mesh-link state.
func (n *TrackedNode) Connected() bool { return n.identity.Connected }
