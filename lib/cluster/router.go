package cluster

import "fmt"

// Router answers whether this node owns a key and where to redirect otherwise.
// A nil *Router owns every key, which is the single node deployment.
type Router struct {
	slots *SlotMap
	self  string
}

// NewRouter creates a router for the node reachable at self.
func NewRouter(slots *SlotMap, self string) *Router {
	return &Router{slots: slots, self: self}
}

// Enabled reports whether routing is active.
func (r *Router) Enabled() bool {
	return r != nil && r.slots != nil
}

// Self returns the address of this node.
func (r *Router) Self() string {
	if r == nil {
		return ""
	}
	return r.self
}

// Slots returns the slot map (nil if routing is disabled).
func (r *Router) Slots() *SlotMap {
	if r == nil {
		return nil
	}
	return r.slots
}

// Local reports whether a slot is served by this node.
func (r *Router) Local(slot uint16) bool {
	if !r.Enabled() {
		return true
	}
	owner, ok := r.slots.Owner(slot)
	return ok && owner == r.self
}

// RedirectError is returned for keys served by another node.
type RedirectError struct {
	Slot uint16
	Addr string
}

func (e *RedirectError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("CLUSTERDOWN Hash slot %d not served", e.Slot)
	}
	return fmt.Sprintf("MOVED %d %s", e.Slot, e.Addr)
}

// ErrCrossSlot is returned for multi key commands whose keys hash to different slots.
var ErrCrossSlot = fmt.Errorf("CROSSSLOT Keys in request don't hash to the same slot")

// Route checks that all keys hash to one slot owned by this node.
func (r *Router) Route(keys []string) error {
	if !r.Enabled() || len(keys) == 0 {
		return nil
	}
	slot := Slot(keys[0])
	for _, k := range keys[1:] {
		if Slot(k) != slot {
			return ErrCrossSlot
		}
	}
	if r.Local(slot) {
		return nil
	}
	owner, _ := r.slots.Owner(slot)
	return &RedirectError{Slot: slot, Addr: owner}
}
