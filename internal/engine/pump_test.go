package engine

import (
	"bytes"
	"testing"
)

func newTestClient(sockFD int, p pipe) *Client {
	c := newClient(0, sockFD, "test-peer", p)
	c.state = Idle
	return c
}

// Scenario 1 (spec.md §8): single client, static file, offset 0.
func TestPumpDeliversFromOffsetZero(t *testing.T) {
	file := []byte("hello\n")
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	c := newTestClient(1, p)
	c.offset = 0

	pump(c, 0, int64(len(file)))

	if got := socks[1]; !bytes.Equal(got, file) {
		t.Fatalf("client received %q, want %q", got, file)
	}
	if c.offset != int64(len(file)) {
		t.Fatalf("offset = %d, want %d", c.offset, len(file))
	}
	if c.state != Idle {
		t.Fatalf("state = %v, want Idle (caught up, awaiting growth)", c.state)
	}
	if c.inPipe != 0 {
		t.Fatalf("inPipe = %d, want 0", c.inPipe)
	}
}

// Scenario 2: negative offset resolves against current length, then pump
// delivers the resolved suffix.
func TestPumpNegativeOffsetSuffix(t *testing.T) {
	file := []byte("abcdefghij")
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	c := newTestClient(1, p)
	c.offset = 7 // Resolve(-3, 10) == 7, tested separately in header package

	pump(c, 0, int64(len(file)))

	if got, want := socks[1], []byte("hij"); !bytes.Equal(got, want) {
		t.Fatalf("client received %q, want %q", got, want)
	}
}

// Scenario 3: tail-follow. Offset already at EOF; pump is a no-op until
// the file grows, then delivers exactly the appended bytes.
func TestPumpTailFollow(t *testing.T) {
	file := []byte("x")
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	c := newTestClient(1, p)
	c.offset = 1 // already caught up

	pump(c, 0, int64(len(file)))
	if len(socks[1]) != 0 {
		t.Fatalf("expected no bytes sent before growth, got %q", socks[1])
	}
	if c.state != Idle {
		t.Fatalf("state = %v, want Idle", c.state)
	}

	p.file = []byte("xyz") // external append of "yz"
	pump(c, 0, int64(len(p.file)))

	if got, want := socks[1], []byte("yz"); !bytes.Equal(got, want) {
		t.Fatalf("client received %q, want %q", got, want)
	}
}

// Scenario 4: two clients at different offsets, both served from one
// file, neither affecting the other's byte stream.
func TestPumpTwoClientsDifferentOffsets(t *testing.T) {
	file := []byte("0123456789")
	socks := map[int][]byte{}

	pa := newFakePipe(64*1024, file, socks)
	a := newTestClient(1, pa)
	a.offset = 0

	pb := newFakePipe(64*1024, file, socks)
	b := newTestClient(2, pb)
	b.offset = 5

	pump(a, 0, int64(len(file)))
	pump(b, 0, int64(len(file)))

	if got, want := socks[1], []byte("0123456789"); !bytes.Equal(got, want) {
		t.Fatalf("A received %q, want %q", got, want)
	}
	if got, want := socks[2], []byte("56789"); !bytes.Equal(got, want) {
		t.Fatalf("B received %q, want %q", got, want)
	}
}

// Invariant 1 (spec.md §8): 0 <= in_pipe <= pipe_capacity, enforced by
// capping Fill to free pipe space even when the file has far more data
// available than one pipe can hold.
func TestPumpRespectsPipeCapacity(t *testing.T) {
	file := make([]byte, 1<<20) // 1 MiB, much larger than the pipe
	socks := map[int][]byte{}
	p := newFakePipe(4096, file, socks)
	c := newTestClient(1, p)
	c.offset = 0
	// Drain never succeeds, so only Fill's capacity cap is exercised.
	p.drainErr = nil
	p.blockDrain = 1 << 30 // effectively "never drains"

	pump(c, 0, int64(len(file)))

	if c.inPipe < 0 || c.inPipe > c.pipe.Cap() {
		t.Fatalf("inPipe = %d, violates 0 <= in_pipe <= %d", c.inPipe, c.pipe.Cap())
	}
	if c.inPipe != 4096 {
		t.Fatalf("inPipe = %d, want exactly pipe capacity 4096", c.inPipe)
	}
	if c.state != Draining {
		t.Fatalf("state = %v, want Draining (parked on full socket)", c.state)
	}
}

// Slow reader isolation (spec.md §8, scenario 5): a client whose Drain
// never succeeds still has offset advance only up to one pipe's worth of
// data; it never blocks progress of another independent client (verified
// here by running A fully stalled, then running B to completion).
func TestPumpSlowReaderDoesNotBlockOthers(t *testing.T) {
	file := []byte("the quick brown fox")
	socksA := map[int][]byte{}
	pa := newFakePipe(8, file, socksA)
	pa.blockDrain = 1 << 30
	a := newTestClient(1, pa)
	a.offset = 0
	pump(a, 0, int64(len(file)))
	if a.inPipe != 8 {
		t.Fatalf("stalled client A inPipe = %d, want 8 (capped at pipe capacity)", a.inPipe)
	}

	socksB := map[int][]byte{}
	pb := newFakePipe(64*1024, file, socksB)
	b := newTestClient(2, pb)
	b.offset = 0
	pump(b, 0, int64(len(file)))
	if got := socksB[2]; string(got) != string(file) {
		t.Fatalf("client B received %q, want full file %q", got, file)
	}
}

// Boundary case (spec.md §8): header 0\n on an empty file keeps the
// connection open with nothing sent until the first append.
func TestPumpEmptyFileNoBytesUntilAppend(t *testing.T) {
	file := []byte{}
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	c := newTestClient(1, p)
	c.offset = 0

	pump(c, 0, 0)
	if len(socks[1]) != 0 {
		t.Fatalf("expected no bytes on empty file, got %q", socks[1])
	}
	if c.state != Idle {
		t.Fatalf("state = %v, want Idle", c.state)
	}
}

// Fatal Fill error closes the client without retrying (spec.md §4.1,
// §7): the engine never retries a transfer that may have partially
// reached the peer already.
func TestPumpFillErrorIsFatal(t *testing.T) {
	file := []byte("data")
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	p.fillErr = errTestFill
	c := newTestClient(1, p)
	c.offset = 0

	pump(c, 0, int64(len(file)))

	if c.state != Closing {
		t.Fatalf("state = %v, want Closing", c.state)
	}
	if c.fatal == nil {
		t.Fatalf("expected fatal to be set")
	}
}

func TestPumpDrainErrorIsFatal(t *testing.T) {
	file := []byte("data")
	socks := map[int][]byte{}
	p := newFakePipe(64*1024, file, socks)
	p.drainErr = errTestDrain
	c := newTestClient(1, p)
	c.offset = 0

	pump(c, 0, int64(len(file)))

	if c.state != Closing {
		t.Fatalf("state = %v, want Closing", c.state)
	}
	if c.fatal == nil {
		t.Fatalf("expected fatal to be set")
	}
}

type testErr string

func (e testErr) Error() string { return string(e) }

const (
	errTestFill  = testErr("fill failed")
	errTestDrain = testErr("drain failed")
)
