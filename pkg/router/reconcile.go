package router

import "time"

// ClientReconciliation is the outcome of one client pass. The caller turns
// it into notifications; the reconcile functions themselves have no side
// effects beyond mutating the tracked map.
type ClientReconciliation struct {
	NewlyAdded   []ClientIdentity
	Connected    []ClientIdentity
	Disconnected []ClientIdentity
}

// NodeReconciliation is the outcome of one AiMesh pass.
type NodeReconciliation struct {
	NewlyAdded   []NodeIdentity
	Connected    []NodeIdentity
	Disconnected []NodeIdentity
}

// FilterWired drops every snapshot entry that is not a wired client. Used in
// media-bridge mode, where only wired topology matters.
func FilterWired(snapshot map[string]ClientSnapshot) map[string]ClientSnapshot {
	filtered := make(map[string]ClientSnapshot, len(snapshot))
	for mac, client := range snapshot {
		if client.Connection == ConnectionWired {
			filtered[mac] = client
		}
	}
	return filtered
}

// ReconcileClients applies one snapshot to the tracked client map.
//
// Every tracked MAC claims its snapshot entry (removing it from the working
// copy) and updates in place, applying the considerHome grace window when the
// entry is missing. Snapshot entries left over afterwards are new clients:
// state is created, updated and added to the map. MACs are normalized before
// matching, so a MAC present in consecutive snapshots can never produce two
// map entries.
func ReconcileClients(
	tracked map[string]*TrackedClient,
	snapshot map[string]ClientSnapshot,
	considerHome time.Duration,
	now time.Time,
) ClientReconciliation {
	result := ClientReconciliation{}

	working := make(map[string]ClientSnapshot, len(snapshot))
	for mac, client := range snapshot {
		working[FormatMAC(mac)] = client
	}

	for mac, client := range tracked {
		var record *ClientSnapshot
		if entry, ok := working[mac]; ok {
			record = &entry
			delete(working, mac)
		}

		switch client.Update(record, considerHome, now) {
		case TransitionConnected:
			result.Connected = append(result.Connected, client.Identity())
		case TransitionDisconnected:
			result.Disconnected = append(result.Disconnected, client.Identity())
		}
	}

	for mac, entry := range working {
		client := NewTrackedClient(mac)
		if client.Update(&entry, considerHome, now) == TransitionConnected {
			result.Connected = append(result.Connected, client.Identity())
		}
		tracked[mac] = client
		result.NewlyAdded = append(result.NewlyAdded, client.Identity())
	}

	return result
}

// ReconcileNodes applies one snapshot to the tracked node map. Same diffing
// as ReconcileClients but without the grace window or any filter: node
// absence never flips the link state.
func ReconcileNodes(
	tracked map[string]*TrackedNode,
	snapshot map[string]NodeSnapshot,
) NodeReconciliation {
	result := NodeReconciliation{}

	working := make(map[string]NodeSnapshot, len(snapshot))
	for mac, node := range snapshot {
		working[FormatMAC(mac)] = node
	}

	for mac, node := range tracked {
		var record *NodeSnapshot
		if entry, ok := working[mac]; ok {
			record = &entry
			delete(working, mac)
		}

		switch node.Update(record) {
		case TransitionConnected:
			result.Connected = append(result.Connected, node.Identity())
		case TransitionDisconnected:
			result.Disconnected = append(result.Disconnected, node.Identity())
		}
	}

	for mac, entry := range working {
		node := NewTrackedNode(mac)
		if node.Update(&entry) == TransitionConnected {
			result.Connected = append(result.Connected, node.Identity())
		}
		tracked[mac] = node
		result.NewlyAdded = append(result.NewlyAdded, node.Identity())
	}

	return result
}
