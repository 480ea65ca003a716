//go:build linux

package kio

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Listen builds a dual-stack (or IPv4-only, when an IPv6 socket cannot be
// created) non-blocking
// listening socket bound to port, driven directly with accept4/epoll
// rather than net.Listen, because the engine needs the raw fd (spec.md
// §6 "Listening"; SPEC_FULL.md §6 explains why net.Listen's abstraction
// is the wrong layer here).
func Listen(port int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_INET6, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		fd, err = unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return -1, fmt.Errorf("kio: socket: %w", err)
		}
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("kio: setsockopt SO_REUSEADDR: %w", err)
		}
		sa := &unix.SockaddrInet4{Port: port}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("kio: bind: %w", err)
		}
	} else {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("kio: setsockopt SO_REUSEADDR: %w", err)
		}
		// Accept both v4-mapped and v6 connections, matching spec.md §6's
		// "IPv4, or dual-stack at the implementation's discretion".
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
		sa := &unix.SockaddrInet6{Port: port}
		if err := unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("kio: bind: %w", err)
		}
	}
	const backlog = 1024
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("kio: listen: %w", err)
	}
	return fd, nil
}

// LocalPort returns the port a listening socket was bound to, useful
// when Listen was called with port 0 and the kernel picked one.
func LocalPort(fd int) (int, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return 0, fmt.Errorf("kio: getsockname: %w", err)
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	case *unix.SockaddrInet6:
		return a.Port, nil
	default:
		return 0, fmt.Errorf("kio: getsockname: unexpected address type %T", sa)
	}
}

// Accept drains accept4(2) on the listening fd, calling each with the new
// client fd and its peer address string until EAGAIN. The new client
// sockets are non-blocking and are produced in accept order.
func Accept(listenFD int, each func(fd int, peer string)) error {
	for {
		nfd, sa, err := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("kio: accept4: %w", err)
		}
		each(nfd, peerString(sa))
	}
}

func peerString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *unix.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

// EnableKeepalive turns on TCP keepalive for fd. When interval is zero the
// OS default probe cadence is used (spec.md §9's canonical choice);
// otherwise idle/interval/count are tuned to approximate the requested
// interval, per SPEC_FULL.md §6's --keepalive knob.
func EnableKeepalive(fd int, interval time.Duration) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("kio: setsockopt SO_KEEPALIVE: %w", err)
	}
	if interval <= 0 {
		return nil
	}
	secs := int(interval.Seconds())
	if secs < 1 {
		secs = 1
	}
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs)
	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 3)
	return nil
}

// DiscardReadable reads and discards any bytes currently available on fd
// without blocking. It is the "submit-read-from-socket-discard" capability
// from spec.md §2's kernel-I/O abstraction inventory; the engine only ever
// calls it during bootstrap cleanup (bytes received after the header's
// terminating LF, spec.md §4.3) since it never reads from a client socket
// once streaming has begun.
func DiscardReadable(fd int) error {
	var buf [4096]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return fmt.Errorf("kio: read-discard: %w", err)
		}
		if n == 0 {
			return nil // peer closed its side; nothing more will arrive
		}
	}
}

// Close closes fd, the "submit-close" capability from spec.md §2.
func Close(fd int) error {
	return unix.Close(fd)
}
