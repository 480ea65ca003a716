package engine

// pump drives one client's zero-copy pipeline as far as it will go
// without blocking: it alternates Fill and Drain (spec.md §4.1) until
// neither can make progress, then leaves the client parked in whichever
// state correctly describes what it's waiting for.
//
// Because Fill and Drain resolve synchronously at the splice(2) boundary
// (SPEC_FULL.md §2), "submit" and "completion" from the spec's state
// table collapse into this single loop; the table's transitions are
// still exactly what determines c.state on return.
func pump(c *Client, fileFD int, fileLength int64) {
	for {
		if c.fatal != nil {
			c.state = Closing
			return
		}
		progressed := false

		if c.offset < fileLength {
			free := c.pipe.Cap() - c.inPipe
			want := fileLength - c.offset
			if want > int64(free) {
				want = int64(free)
			}
			if want > 0 {
				n, err := c.pipe.FillFrom(fileFD, &c.offset, int(want))
				if err != nil {
					c.fatal = err
					c.state = Closing
					return
				}
				if n > 0 {
					c.inPipe += n
					progressed = true
				}
			}
		}

		if c.inPipe > 0 {
			n, err := c.pipe.DrainTo(c.sockFD, c.inPipe)
			if err != nil {
				c.fatal = err
				c.state = Closing
				return
			}
			if n > 0 {
				c.inPipe -= n
				progressed = true
			}
		}

		if !progressed {
			break
		}
	}

	switch {
	case c.inPipe > 0:
		// Drain made no further progress this round: the socket send
		// buffer is full. Park awaiting the socket-writable edge.
		c.state = Draining
	case c.offset < fileLength:
		// The pipe is empty and the length snapshot says more data
		// exists, but Fill transferred nothing (splice reported EAGAIN
		// or end of file). No socket-writable interest is armed with an
		// empty pipe, so the next file-grew edge calls pump again.
		c.state = Filling
	default:
		// Fully caught up: nothing to do until the file grows.
		c.state = Idle
	}
}
