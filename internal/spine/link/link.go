// Package link implements the LinkContainer shared by the Subscription and
// Binding managers: a monotonic-id table of (server feature, client
// feature) pairs. Grounded on the original's FeatureLinkContainer, a thin
// Vector wrapper over linear scans - the table is expected to stay small
// (one device's worth of links), so a slice plus linear search is the
// idiomatic Go equivalent rather than introducing map-based indices.
package link

import "github.com/philipptrenz/openeebus-sub004/internal/spine/address"

// Link is one (server, client) feature pair with a stable id.
type Link struct {
	ID     uint64
	Server address.Feature
	Client address.Feature
}

// Container holds an ordered set of Links with monotonically increasing ids.
type Container struct {
	links  []Link
	nextID uint64
}

// NewContainer constructs an empty Container. Link ids start at 1.
func NewContainer() *Container {
	return &Container{nextID: 1}
}

// Add appends a new Link with a fresh id and returns it.
func (c *Container) Add(server, client address.Feature) Link {
	l := Link{ID: c.nextID, Server: server, Client: client}
	c.nextID++
	c.links = append(c.links, l)
	return l
}

// Find returns the Link matching both addresses exactly, if any.
func (c *Container) Find(server, client address.Feature) (Link, bool) {
	for _, l := range c.links {
		if l.Server.Equal(server) && l.Client.Equal(client) {
			return l, true
		}
	}
	return Link{}, false
}

// HasServer reports whether any Link already uses server as its server
// feature - the Binding manager's "at most one remote binding" check.
func (c *Container) HasServer(server address.Feature) bool {
	for _, l := range c.links {
		if l.Server.Equal(server) {
			return true
		}
	}
	return false
}

// Remove deletes the Link with the given id, if present.
func (c *Container) Remove(id uint64) bool {
	for i, l := range c.links {
		if l.ID == id {
			c.links = append(c.links[:i], c.links[i+1:]...)
			return true
		}
	}
	return false
}

// All returns a snapshot of every Link currently stored.
func (c *Container) All() []Link {
	out := make([]Link, len(c.links))
	copy(out, c.links)
	return out
}

// Len returns the number of Links currently stored.
func (c *Container) Len() int {
	return len(c.links)
}

// RemoveWhere removes every Link for which pred returns true, returning the
// removed links. Implemented as a filter rather than index-juggling removal
// during iteration, avoiding the off-by-one pitfalls of in-place compaction.
func (c *Container) RemoveWhere(pred func(Link) bool) []Link {
	kept := c.links[:0:0]
	var removed []Link
	for _, l := range c.links {
		if pred(l) {
			removed = append(removed, l)
		} else {
			kept = append(kept, l)
		}
	}
	c.links = kept
	return removed
}
