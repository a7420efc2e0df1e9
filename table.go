package connector

import "sync"

// requestTable correlates replies to calls. The slot index is the request
// id; the list only grows, and settled slots are emptied, never reused, so
// ids stay unique for the connector's lifetime.
//
// popupPending tracks ids routed through the popup channel; an id is only
// present while its call is unsettled.
type requestTable struct {
	mu           sync.Mutex
	slots        []*Call
	popupPending map[int64]struct{}
}

func newRequestTable() *requestTable {
	return &requestTable{popupPending: make(map[int64]struct{})}
}

// add appends a new call, assigning the next id.
func (t *requestTable) add(onSettle func(*Call)) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := newCall(int64(len(t.slots)), onSettle)
	t.slots = append(t.slots, c)
	return c
}

// live returns the unsettled call registered under id.
func (t *requestTable) live(id int64) (*Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= int64(len(t.slots)) || t.slots[id] == nil {
		return nil, false
	}
	return t.slots[id], true
}

// clear empties a settled slot and forgets its popup marker.
func (t *requestTable) clear(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id >= 0 && id < int64(len(t.slots)) {
		t.slots[id] = nil
	}
	delete(t.popupPending, id)
}

// markPopup records a popup-bound id. Calls settled while still queued are
// not tracked.
func (t *requestTable) markPopup(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= int64(len(t.slots)) || t.slots[id] == nil {
		return
	}
	t.popupPending[id] = struct{}{}
}

func (t *requestTable) unmarkPopup(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.popupPending, id)
}

// clearPopup drops every popup marker; used when a popup instance announces
// readiness, discarding bookkeeping left over from a predecessor.
func (t *requestTable) clearPopup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.popupPending)
}

// popupIdle reports whether no popup-bound request remains pending.
func (t *requestTable) popupIdle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.popupPending) == 0
}
