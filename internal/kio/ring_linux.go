//go:build linux

package kio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Ring is the single combined wait primitive the engine blocks on once per
// tick (spec.md §4.4, §5). It is a thin wrapper around epoll(7); every
// registered interest carries a Tag round-tripped through the event's
// user-data field rather than a real file descriptor, since the engine
// tracks the fd-to-client mapping itself via the ClientTable.
type Ring struct {
	fd   int
	wake int // eventfd, always armed for OpWake
}

// Event is one completed edge drained from the Ring.
type Event struct {
	Tag Tag
}

// NewRing creates an epoll instance and arms it with a fresh eventfd used
// as the engine's self-pipe: other goroutines (the file watcher, signal
// handling) ring it to wake epoll_wait without touching engine state
// directly.
func NewRing() (*Ring, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("kio: epoll_create1: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("kio: eventfd: %w", err)
	}
	r := &Ring{fd: epfd, wake: wfd}
	if err := r.addFD(wfd, unix.EPOLLIN, MakeTag(NoSlot, OpWake)); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// WakeFD returns the eventfd other goroutines should write to in order to
// wake the engine's epoll_wait.
func (r *Ring) WakeFD() int { return r.wake }

// Wake rings the eventfd. Safe to call from any goroutine.
func Wake(fd int) error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("kio: eventfd write: %w", err)
	}
	return nil
}

// DrainWake consumes the eventfd's counter so epoll_wait reports it as
// non-readable again until the next Wake.
func (r *Ring) DrainWake() error {
	var buf [8]byte
	for {
		_, err := unix.Read(r.wake, buf[:])
		if err == nil {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		return fmt.Errorf("kio: eventfd read: %w", err)
	}
}

// epollEventFor packs a Tag into an EpollEvent's 8-byte user-data union,
// which x/sys/unix exposes as the Fd/Pad int32 pair rather than a single
// uint64 field.
func epollEventFor(events uint32, tag Tag) unix.EpollEvent {
	return unix.EpollEvent{
		Events: events,
		Fd:     int32(uint64(tag) & 0xFFFFFFFF),
		Pad:    int32(uint64(tag) >> 32),
	}
}

func tagFromEvent(ev unix.EpollEvent) Tag {
	return Tag(uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32)
}

func (r *Ring) addFD(fd int, events uint32, tag Tag) error {
	ev := epollEventFor(events, tag)
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("kio: epoll_ctl add: %w", err)
	}
	return nil
}

// AddAccept arms the listening socket for read-readiness (a connection is
// waiting to be accepted).
func (r *Ring) AddAccept(fd int) error {
	return r.addFD(fd, unix.EPOLLIN, MakeTag(NoSlot, OpAccept))
}

// AddHeaderRead arms a freshly-accepted socket for read-readiness while
// the engine is still bootstrapping it (reading the header).
func (r *Ring) AddHeaderRead(fd int, slot uint32) error {
	return r.addFD(fd, unix.EPOLLIN, MakeTag(slot, OpHeader))
}

// RemoveHeaderRead disarms the bootstrap read interest once the header
// has been fully consumed.
func (r *Ring) RemoveHeaderRead(fd int) error {
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("kio: epoll_ctl del: %w", err)
	}
	return nil
}

// ArmWritable registers (or re-registers) interest in the client socket
// becoming writable, used while a Drain is parked awaiting socket
// backpressure to relieve.
func (r *Ring) ArmWritable(fd int, slot uint32) error {
	ev := epollEventFor(unix.EPOLLOUT, MakeTag(slot, OpWritable))
	err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_MOD, fd, &ev)
	if err == unix.ENOENT {
		err = unix.EpollCtl(r.fd, unix.EPOLL_CTL_ADD, fd, &ev)
	}
	if err != nil {
		return fmt.Errorf("kio: epoll_ctl arm writable: %w", err)
	}
	return nil
}

// DisarmWritable removes EPOLLOUT interest once a client has drained
// everything it currently has buffered; leaving it armed would make
// epoll_wait return immediately every tick for no reason (a fully-idle
// TCP socket is always writable).
func (r *Ring) DisarmWritable(fd int) error {
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("kio: epoll_ctl disarm writable: %w", err)
	}
	return nil
}

// Remove drops every interest registered for fd. Called when a client
// closes.
func (r *Ring) Remove(fd int) error {
	if err := unix.EpollCtl(r.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT {
		return fmt.Errorf("kio: epoll_ctl remove: %w", err)
	}
	return nil
}

// Wait blocks until at least one registered interest is ready, an
// internal signal interrupts it, or timeoutMs elapses (a negative value
// blocks indefinitely), and appends the resulting edges to dst. This is
// the engine's one suspension point per tick.
func (r *Ring) Wait(dst []Event, timeoutMs int) ([]Event, error) {
	var raw [256]unix.EpollEvent
	n, err := unix.EpollWait(r.fd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("kio: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		dst = append(dst, Event{Tag: tagFromEvent(raw[i])})
	}
	return dst, nil
}

// Close releases the epoll instance and its eventfd.
func (r *Ring) Close() error {
	unix.Close(r.wake)
	return unix.Close(r.fd)
}
