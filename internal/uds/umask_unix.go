//go:build unix

package uds

import "golang.org/x/sys/unix"

// setUmask applies mask and returns the previous umask, so the socket
// file created immediately afterwards is inaccessible to "others" per
// spec §4.6.
func setUmask(mask int) int {
	return unix.Umask(mask)
}

func restoreUmask(previous int) {
	unix.Umask(previous)
}
