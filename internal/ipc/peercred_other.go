//go:build !linux && !windows

package ipc

import "net"

// verifyPeer relies on the 0600 socket mode where SO_PEERCRED is unavailable.
func verifyPeer(*net.UnixConn) error {
	return nil
}
