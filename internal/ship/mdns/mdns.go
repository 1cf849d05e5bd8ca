// Package mdns declares the discovery capability the Node needs, without
// depending on any concrete zeroconf/mDNS library, plus an in-memory Fake
// for deterministic tests.
package mdns

import "sync"

// Entry describes one discovered EEBUS service instance.
type Entry struct {
	SKI    string
	Host   string
	Port   int
	Path   string
	ShipID string
}

// Callback receives a full snapshot of currently visible services on every
// change.
type Callback func(entries []Entry)

// Browser is the discovery collaborator a Node drives. A concrete
// implementation (outside this core, per SPEC_FULL.md's Non-goals) wraps a
// real mDNS/DNS-SD library and invokes Callback on every change.
type Browser interface {
	// Start begins browsing and invoking cb on every snapshot change. It
	// returns once browsing has started.
	Start(cb Callback) error
	// Stop ends browsing.
	Stop() error
}

// Fake is an in-memory Browser for tests: Publish delivers a snapshot
// synchronously to the registered callback.
type Fake struct {
	mu sync.Mutex
	cb Callback
}

// NewFake constructs a Fake with no callback registered.
func NewFake() *Fake { return &Fake{} }

// Start implements Browser.
func (f *Fake) Start(cb Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	return nil
}

// Stop implements Browser.
func (f *Fake) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = nil
	return nil
}

// Publish delivers entries to the registered callback, if any - simulating
// one mDNS browse-result event.
func (f *Fake) Publish(entries []Entry) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(entries)
	}
}
