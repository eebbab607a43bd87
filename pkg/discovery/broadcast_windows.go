//go:build windows

package discovery

import "net"

// setBroadcastOption is a no-op placeholder on Windows; the orchestrator
// itself is not expected to run there, but the package should still build.
func setBroadcastOption(conn *net.UDPConn) error {
	return nil
}
