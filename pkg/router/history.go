package router

import (
	"sort"
	"time"
)

// History is the bounded list of most-recently-connected clients, kept
// sorted ascending by connection time. At most one entry exists per MAC.
type History struct {
	max     int
	entries []ClientIdentity
}

// NewHistory creates a history bounded to max entries. A zero bound keeps
// the history permanently empty.
func NewHistory(max int) *History {
	if max < 0 {
		max = 0
	}
	return &History{max: max}
}

// Record inserts the identity of a client that just transitioned to
// connected. An existing entry for the same MAC is removed first, the list
// is re-sorted by connection time and the oldest entries are evicted while
// the bound is exceeded. An identity without a usable connection time is
// stamped with now.
func (h *History) Record(identity ClientIdentity, now time.Time) {
	if identity.ConnectedAt.IsZero() {
		identity.ConnectedAt = now.UTC()
	}

	for i, entry := range h.entries {
		if entry.MAC == identity.MAC {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			break
		}
	}

	h.entries = append(h.entries, identity)

	// Authoritative re-sort: entries can arrive with out-of-order
	// connection times when the router reports association times itself.
	sort.SliceStable(h.entries, func(i, j int) bool {
		return h.entries[i].ConnectedAt.Before(h.entries[j].ConnectedAt)
	})

	for len(h.entries) > h.max {
		h.entries = h.entries[1:]
	}
}

// Entries returns a copy of the history, oldest first.
func (h *History) Entries() []ClientIdentity {
	entries := make([]ClientIdentity, len(h.entries))
	copy(entries, h.entries)
	return entries
}

// LatestConnectedAt is the connection time of the newest entry, zero when
// the history is empty.
func (h *History) LatestConnectedAt() time.Time {
	if len(h.entries) == 0 {
		return time.Time{}
	}
	return h.entries[len(h.entries)-1].ConnectedAt
}

// Len reports the number of entries.
func (h *History) Len() int { return len(h.entries) }
