// Command tailcat connects to a tailsrv, sends a bootstrap header, and
// copies whatever it receives to stdout. It is the interactive
// counterpart to tailsync: useful for watching a stream by hand.
package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run())
}

func run() int {
	heartbeat := pflag.DurationP("heartbeat", "b", 5*time.Second, "TCP keepalive probe interval")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] ADDR [OFFSET]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Connect to a tailsrv at ADDR and copy its stream to stdout.\n"+
			"OFFSET defaults to 0; a negative value counts back from the file's current end.\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() < 1 || pflag.NArg() > 2 {
		pflag.Usage()
		return 2
	}
	addr := pflag.Arg(0)
	offset := "0"
	if pflag.NArg() == 2 {
		offset = pflag.Arg(1)
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tailcat: connect: %v\n", err)
		return 1
	}
	defer conn.Close()

	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetKeepAlive(true)
		tc.SetKeepAlivePeriod(*heartbeat)
	}

	if _, err := fmt.Fprintf(conn, "%s\n", offset); err != nil {
		fmt.Fprintf(os.Stderr, "tailcat: send header: %v\n", err)
		return 1
	}

	if _, err := io.Copy(os.Stdout, conn); err != nil {
		fmt.Fprintf(os.Stderr, "tailcat: %v\n", err)
		return 1
	}
	return 0
}
