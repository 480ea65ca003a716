package engine

// Table is the ClientTable from spec.md §3: a mapping from slot to
// Client, with reverse lookup from a submission tag's slot component
// back to the Client in O(1), and no two entries ever sharing a slot.
type Table struct {
	clients map[uint32]*Client
	nextID  uint32
	// order lists slots in insertion order; rotateFrom is the index the
	// next fairness sweep starts at, so no client is systematically
	// favored (spec.md §4.1 "Fairness").
	order      []uint32
	rotateFrom int
}

// NewTable creates an empty ClientTable.
func NewTable() *Table {
	return &Table{clients: make(map[uint32]*Client)}
}

// Insert adds c to the table under a freshly allocated, never-reused
// slot and returns that slot.
func (t *Table) Insert(c *Client) uint32 {
	slot := t.nextID
	t.nextID++
	c.slot = slot
	t.clients[slot] = c
	t.order = append(t.order, slot)
	return slot
}

// Get looks up a Client by slot. ok is false if no client currently
// holds that slot (e.g. it already closed).
func (t *Table) Get(slot uint32) (*Client, bool) {
	c, ok := t.clients[slot]
	return c, ok
}

// Remove deletes the Client in slot, if present.
func (t *Table) Remove(slot uint32) {
	delete(t.clients, slot)
	for i, s := range t.order {
		if s == slot {
			t.order = append(t.order[:i], t.order[i+1:]...)
			if t.rotateFrom > i {
				t.rotateFrom--
			}
			break
		}
	}
}

// Len returns the number of live clients.
func (t *Table) Len() int { return len(t.clients) }

// Each calls fn once per live client, starting from a rotating point in
// insertion order so that a single tick's fairness sweep does not always
// begin with the same client (spec.md §4.1).
func (t *Table) Each(fn func(*Client)) {
	n := len(t.order)
	if n == 0 {
		return
	}
	if t.rotateFrom >= n {
		t.rotateFrom = 0
	}
	// Snapshot the rotation order before calling out: fn may close a
	// client, which mutates t.order in place (Remove), and the snapshot
	// keeps that mutation from skipping or re-visiting slots mid-sweep.
	slots := make([]uint32, n)
	for i := 0; i < n; i++ {
		slots[i] = t.order[(t.rotateFrom+i)%n]
	}
	for _, slot := range slots {
		if c, ok := t.clients[slot]; ok {
			fn(c)
		}
	}
	if n > 0 {
		t.rotateFrom = (t.rotateFrom + 1) % n
	}
}
