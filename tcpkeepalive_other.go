//go:build !linux

package iec104

import (
	"net"
	"time"
)

// Portable fallback: without TCP_KEEPIDLE/KEEPINTVL/KEEPCNT the probe
// interval and count stay at OS defaults; only the idle trigger and
// NODELAY from spec.md §6 can be honored here.
func tuneKeepalive(c *net.TCPConn) error {
	if err := c.SetNoDelay(true); err != nil {
		return err
	}
	if err := c.SetKeepAlive(true); err != nil {
		return err
	}
	return c.SetKeepAlivePeriod(5 * time.Second)
}
