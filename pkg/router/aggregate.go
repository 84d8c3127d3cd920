package router

import (
	"sort"
	"time"
)

// ClientsAggregate is the derived connected-clients view recomputed after
// every reconciliation pass.
type ClientsAggregate struct {
	ConnectedCount    int
	ConnectedList     []ClientIdentity
	LatestConnected   []ClientIdentity
	LatestConnectedAt time.Time
}

// NodesAggregate is the derived AiMesh view: connected-node count plus the
// identities of every known node, connected or not.
type NodesAggregate struct {
	ConnectedCount int
	Nodes          []NodeIdentity
}

// AggregateClients recomputes the connected count and list from the tracked
// map and attaches the current history. Lists are sorted by MAC so the
// result is deterministic and value-comparable across passes.
func AggregateClients(tracked map[string]*TrackedClient, history *History) ClientsAggregate {
	aggregate := ClientsAggregate{}
	for _, client := range tracked {
		if client.Connected() {
			aggregate.ConnectedCount++
			aggregate.ConnectedList = append(aggregate.ConnectedList, client.Identity())
		}
	}
	sort.Slice(aggregate.ConnectedList, func(i, j int) bool {
		return aggregate.ConnectedList[i].MAC < aggregate.ConnectedList[j].MAC
	})

	aggregate.LatestConnected = history.Entries()
	aggregate.LatestConnectedAt = history.LatestConnectedAt()
	return aggregate
}

// AggregateNodes recomputes the AiMesh view from the tracked map.
func AggregateNodes(tracked map[string]*TrackedNode) NodesAggregate {
	aggregate := NodesAggregate{}
	for _, node := range tracked {
		if node.Connected() {
			aggregate.ConnectedCount++
		}
		aggregate.Nodes = append(aggregate.Nodes, node.Identity())
	}
	sort.Slice(aggregate.Nodes, func(i, j int) bool {
		return aggregate.Nodes[i].MAC < aggregate.Nodes[j].MAC
	})
	return aggregate
}

// Equal is structural equality over the whole tuple.
func (a ClientsAggregate) Equal(other ClientsAggregate) bool {
	return a.ConnectedCount == other.ConnectedCount &&
		a.LatestConnectedAt.Equal(other.LatestConnectedAt) &&
		identitiesEqual(a.ConnectedList, other.ConnectedList) &&
		identitiesEqual(a.LatestConnected, other.LatestConnected)
}

// Equal is structural equality over the whole tuple.
func (a NodesAggregate) Equal(other NodesAggregate) bool {
	if a.ConnectedCount != other.ConnectedCount || len(a.Nodes) != len(other.Nodes) {
		return false
	}
	for i := range a.Nodes {
		if !a.Nodes[i].Equal(other.Nodes[i]) {
			return false
		}
	}
	return true
}

func identitiesEqual(a, b []ClientIdentity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// publishedAggregates remembers the last tuples handed to consumers so a
// pass that recomputes identical values does not notify anyone.
type publishedAggregates struct {
	clients    ClientsAggregate
	nodes      NodesAggregate
	hasClients bool
	hasNodes   bool
}

// updateClients stores the tuple and reports whether it differed from the
// previously published one. The first update always reports a change.
func (p *publishedAggregates) updateClients(next ClientsAggregate) bool {
	if p.hasClients && p.clients.Equal(next) {
		return false
	}
	p.clients = next
	p.hasClients = true
	return true
}

func (p *publishedAggregates) updateNodes(next NodesAggregate) bool {
	if p.hasNodes && p.nodes.Equal(next) {
		return false
	}
	p.nodes = next
	p.hasNodes = true
	return true
}
