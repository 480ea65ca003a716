package engine

import (
	"bytes"

	"github.com/asayers/tailsrv/internal/header"
)

// feedHeader appends newly-read bytes to the client's header buffer and
// reports whether a complete, newline-terminated header is now available
// (spec.md §4.3). Bytes received after the terminating LF are returned
// in extra so the caller can discard them (spec.md §4.3 "Bytes received
// after the terminating LF ... are discarded silently").
func (c *Client) feedHeader(chunk []byte) (line []byte, extra []byte, complete bool, err error) {
	c.hdr = append(c.hdr, chunk...)
	if i := bytes.IndexByte(c.hdr, '\n'); i >= 0 {
		return c.hdr[:i], c.hdr[i+1:], true, nil
	}
	if len(c.hdr) >= header.MaxLen {
		return nil, nil, false, header.ErrTooLong
	}
	return nil, nil, false, nil
}

// resolveBootstrap parses a complete header line and sets the client's
// initial offset, per spec.md §4.3's resolution rule.
func (c *Client) resolveBootstrap(line []byte, fileLength int64) error {
	v, err := header.Parse(line)
	if err != nil {
		return err
	}
	c.offset = header.Resolve(v, fileLength)
	return nil
}
