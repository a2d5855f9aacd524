//go:build linux

package iec104

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// Keepalive tuning from spec.md §6: idle 5s, interval 2s, count 2,
// TCP_NODELAY on. net.TCPConn.SetKeepAlivePeriod cannot set the probe
// count or distinguish idle from interval, so the three options are
// set through the raw socket.
const (
	tcpKeepIdleSeconds     = 5
	tcpKeepIntervalSeconds = 2
	tcpKeepCount           = 2
)

func tuneKeepalive(c *net.TCPConn) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	if err := c.SetKeepAlive(true); err != nil {
		return err
	}
	if err := c.SetKeepAlivePeriod(tcpKeepIdleSeconds * time.Second); err != nil {
		return err
	}

	raw, err := c.SyscallConn()
	if err != nil {
		return err
	}
	var optErr error
	err = raw.Control(func(fd uintptr) {
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, tcpKeepIdleSeconds); e != nil {
			optErr = e
			return
		}
		if e := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, tcpKeepIntervalSeconds); e != nil {
			optErr = e
			return
		}
		optErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, tcpKeepCount)
	})
	if err != nil {
		return err
	}
	return optErr
}
