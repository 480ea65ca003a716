// Package engine implements the zero-copy streaming event loop: the
// per-client state machine and the dispatcher that drives it on the
// accept, file-grew, and socket-writable edges (spec.md §4.1).
package engine

import (
	"github.com/google/uuid"
)

// State is one of the five states a Client cycles through (spec.md §3).
type State int

const (
	Bootstrapping State = iota
	Idle
	Filling
	Draining
	Closing
)

func (s State) String() string {
	switch s {
	case Bootstrapping:
		return "bootstrapping"
	case Idle:
		return "idle"
	case Filling:
		return "filling"
	case Draining:
		return "draining"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// pipe is the minimal surface pump needs from a client's kernel pipe. The
// real implementation is kio.Pipe (splice-backed, zero-copy); tests use
// an in-memory fake so the state machine in spec.md §4.1 is exercisable
// without real file descriptors.
type pipe interface {
	FillFrom(fileFD int, offset *int64, max int) (int, error)
	DrainTo(sockFD int, max int) (int, error)
	Cap() int
	Close() error
}

// Client is one live connection (spec.md §3). slot is the dense,
// never-reused index engine uses for O(1) table lookup and for the
// client-id component of a SubmissionTag; id is a process-unique
// identifier kept only for logs and diagnostics.
type Client struct {
	slot uint32
	id   uuid.UUID

	sockFD int
	peer   string
	pipe   pipe

	offset int64
	inPipe int

	state State
	fatal error

	// hdr buffers the bootstrap header line until its terminating LF
	// arrives (spec.md §4.3).
	hdr []byte

	// writableArmed tracks whether the engine currently holds EPOLLOUT
	// interest on sockFD, so pumpAndRearm doesn't double-register or
	// double-deregister it.
	writableArmed bool
}

// ID returns the client's process-unique diagnostic identifier.
func (c *Client) ID() uuid.UUID { return c.id }

// Slot returns the dense table index used in submission tags.
func (c *Client) Slot() uint32 { return c.slot }

// Offset returns the next byte of the watched file due to this client.
func (c *Client) Offset() int64 { return c.offset }

// InPipe returns the number of bytes currently buffered in the client's
// pipe, not yet handed to its socket.
func (c *Client) InPipe() int { return c.inPipe }

// State returns the client's current lifecycle state.
func (c *Client) State() State { return c.state }

// Peer returns the client's remote address, for logging.
func (c *Client) Peer() string { return c.peer }

// SockFD returns the client's raw socket file descriptor.
func (c *Client) SockFD() int { return c.sockFD }

// newClient constructs a Client past the point of having an open socket
// and a fresh pipe, but before bootstrap has parsed its header.
func newClient(slot uint32, sockFD int, peer string, p pipe) *Client {
	return &Client{
		slot:   slot,
		id:     uuid.New(),
		sockFD: sockFD,
		peer:   peer,
		pipe:   p,
		state:  Bootstrapping,
		hdr:    make([]byte, 0, 32),
	}
}
