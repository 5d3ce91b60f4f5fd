//go:build linux

package uds

import (
	"fmt"
	"net"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// peerCredentials reads SO_PEERCRED off the connection's underlying file
// descriptor and resolves the uid to a username, falling back to the
// numeric uid when no passwd entry is found.
func peerCredentials(nc net.Conn) (PeerCredentials, error) {
	uc, ok := nc.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, fmt.Errorf("uds: connection is not a unix socket")
	}

	raw, err := uc.SyscallConn()
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("uds: failed to obtain raw connection: %w", err)
	}

	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("uds: failed to read SO_PEERCRED: %w", err)
	}
	if sockErr != nil {
		return PeerCredentials{}, fmt.Errorf("uds: failed to read SO_PEERCRED: %w", sockErr)
	}

	pc := PeerCredentials{
		UID: cred.Uid,
		GID: cred.Gid,
		PID: cred.Pid,
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(cred.Uid), 10)); err == nil {
		pc.Username = u.Username
	} else {
		pc.Username = strconv.FormatUint(uint64(cred.Uid), 10)
	}
	return pc, nil
}
