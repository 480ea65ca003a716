package kio

// PerClientFDs is the number of file descriptors one Client costs: its
// socket, plus the read and write ends of its pipe (spec.md §5).
const PerClientFDs = 3

// Budget tracks the process's file-descriptor headroom so the engine can
// refuse new accepts before the kernel starts refusing them for us
// (spec.md §5 "Shared-resource policy").
type Budget struct {
	limit int
	used  int
}

// NewBudget creates a Budget against the given RLIMIT_NOFILE soft limit,
// reserving reserved descriptors (listener, eventfd, stdio, the watcher's
// inotify fd, ...) that are never released.
func NewBudget(limit, reserved int) *Budget {
	return &Budget{limit: limit, used: reserved}
}

// HasHeadroom reports whether accepting one more client (which costs
// PerClientFDs descriptors) would stay within the limit.
func (b *Budget) HasHeadroom() bool {
	return b.used+PerClientFDs <= b.limit
}

// Acquire reserves PerClientFDs descriptors for a new client. Callers
// must check HasHeadroom first.
func (b *Budget) Acquire() { b.used += PerClientFDs }

// Release returns PerClientFDs descriptors to the pool when a client
// closes.
func (b *Budget) Release() {
	b.used -= PerClientFDs
	if b.used < 0 {
		b.used = 0
	}
}

// Used returns the number of descriptors currently accounted for.
func (b *Budget) Used() int { return b.used }

// Limit returns the configured ceiling.
func (b *Budget) Limit() int { return b.limit }
