//go:build !windows

package discovery

import (
	"net"
	"syscall"
)

// setBroadcastOption enables SO_BROADCAST on the raw socket underlying conn
// so the UDP datagram reaches 255.255.255.255 instead of being dropped by
// the kernel.
func setBroadcastOption(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
