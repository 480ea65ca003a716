//go:build linux

package kio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pipe is a client's owned kernel pipe, the in-kernel bounded buffer that
// stands between the watched file and the client socket (spec.md §4.1).
// Fill and Drain never copy bytes through user memory: both ends of the
// pipe are non-blocking, and splice(2) resolves immediately, carrying a
// byte count or EAGAIN, so submission and completion coincide here (see
// SPEC_FULL.md §2).
type Pipe struct {
	r, w int
	cap  int
}

// NewPipe creates a pipe pair sized to capacity bytes and marks both ends
// non-blocking.
func NewPipe(capacity int) (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("kio: pipe2: %w", err)
	}
	p := &Pipe{r: fds[0], w: fds[1], cap: capacity}
	if _, err := unix.FcntlInt(uintptr(p.w), unix.F_SETPIPE_SZ, capacity); err != nil {
		p.Close()
		return nil, fmt.Errorf("kio: fcntl F_SETPIPE_SZ: %w", err)
	}
	return p, nil
}

// Cap returns the pipe's configured capacity.
func (p *Pipe) Cap() int { return p.cap }

// FillFrom splices up to max bytes from fileFD at *offset into the
// pipe's write end, advancing *offset by the amount transferred.
//
// Return value semantics match the Fill row of the state table in
// spec.md §4.1: n>0 is a normal completion, n==0/err==nil is
// "EOF-for-now" (no data available without blocking), err!=nil is a
// fatal-client error.
func (p *Pipe) FillFrom(fileFD int, offset *int64, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := unix.Splice(fileFD, offset, p.w, nil, max, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("kio: splice file->pipe: %w", err)
	}
	return int(n), nil
}

// DrainTo splices up to max bytes from the pipe's read end into sockFD.
//
// Return value semantics match the Drain row of the state table:
// n>0 is a normal completion, n==0/err==nil is "would-block" (the
// socket's send buffer is full), err!=nil is a fatal-client error.
func (p *Pipe) DrainTo(sockFD int, max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := unix.Splice(p.r, nil, sockFD, nil, max, unix.SPLICE_F_NONBLOCK|unix.SPLICE_F_MOVE)
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("kio: splice pipe->socket: %w", err)
	}
	return int(n), nil
}

// Close releases both ends of the pipe.
func (p *Pipe) Close() error {
	e1 := unix.Close(p.r)
	e2 := unix.Close(p.w)
	if e1 != nil {
		return e1
	}
	return e2
}
