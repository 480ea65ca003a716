package engine

// fakePipe is an in-memory stand-in for kio.Pipe so the state machine in
// spec.md §4.1 can be exercised without real file descriptors. file is
// the full byte sequence of the watched file (this package's tests never
// grow it mid-pump; growth is simulated by re-invoking pump with a larger
// fileLength and the same file slice extended first).
type fakePipe struct {
	cap int
	buf []byte // bytes currently staged in the "pipe"

	file  []byte // backing bytes FillFrom reads from, indexed by offset
	socks map[int][]byte // fake "sockets": fd -> bytes written so far

	fillErr  error
	drainErr error
	// blockDrain, when >0, makes the next N DrainTo calls report
	// would-block (0, nil) regardless of capacity, to simulate a full
	// socket send buffer.
	blockDrain int
}

func newFakePipe(cap int, file []byte, socks map[int][]byte) *fakePipe {
	return &fakePipe{cap: cap, file: file, socks: socks}
}

func (p *fakePipe) Cap() int { return p.cap }

func (p *fakePipe) FillFrom(fileFD int, offset *int64, max int) (int, error) {
	if p.fillErr != nil {
		return 0, p.fillErr
	}
	avail := int64(len(p.file)) - *offset
	if avail <= 0 {
		return 0, nil
	}
	n := max
	if int64(n) > avail {
		n = int(avail)
	}
	if n <= 0 {
		return 0, nil
	}
	p.buf = append(p.buf, p.file[*offset:*offset+int64(n)]...)
	*offset += int64(n)
	return n, nil
}

func (p *fakePipe) DrainTo(sockFD int, max int) (int, error) {
	if p.drainErr != nil {
		return 0, p.drainErr
	}
	if p.blockDrain > 0 {
		p.blockDrain--
		return 0, nil
	}
	n := max
	if n > len(p.buf) {
		n = len(p.buf)
	}
	if n <= 0 {
		return 0, nil
	}
	p.socks[sockFD] = append(p.socks[sockFD], p.buf[:n]...)
	p.buf = p.buf[n:]
	return n, nil
}

func (p *fakePipe) Close() error { return nil }
