// Command tailsync mirrors a remote tailsrv's stream into a local file,
// resuming from wherever the local file already left off. An exclusive
// flock prevents two tailsyncs from writing to the same file at once.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

func main() {
	os.Exit(run())
}

func run() int {
	heartbeat := pflag.DurationP("heartbeat", "b", 5*time.Second, "TCP keepalive probe interval")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] ADDR PATH\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Connect to a tailsrv at ADDR and append its stream to PATH,\n"+
			"resuming from PATH's current length.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() != 2 {
		pflag.Usage()
		return 2
	}
	addr := pflag.Arg(0)
	path := pflag.Arg(1)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: open %q: %v\n", path, err)
		return 1
	}
	defer file.Close()

	// Exclusive, non-blocking: a second tailsync on the same file fails
	// fast rather than silently interleaving writes with this one.
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: %q is already locked by another tailsync: %v\n", path, err)
		return 1
	}

	// We hold the exclusive lock, so no other writer can be racing us for
	// this stat.
	info, err := file.Stat()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: stat %q: %v\n", path, err)
		return 1
	}
	offset := info.Size()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: connect: %v\n", err)
		return 1
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(*heartbeat)
	}

	if _, err := fmt.Fprintf(conn, "%d\n", offset); err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: send header: %v\n", err)
		return 1
	}

	if _, err := io.Copy(file, conn); err != nil {
		fmt.Fprintf(os.Stderr, "tailsync: %v\n", err)
		return 1
	}
	return 0
}
