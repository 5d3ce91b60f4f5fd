//go:build !linux

package uds

import "net"

// peerCredentials is unsupported outside Linux: SO_PEERCRED is a
// Linux-specific socket option. The joynr cluster controller targets
// Linux in production; this stub keeps the package portable for local
// development and tests on other platforms.
func peerCredentials(nc net.Conn) (PeerCredentials, error) {
	return PeerCredentials{}, nil
}
