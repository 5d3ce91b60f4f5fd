//go:build !unix

package uds

func setUmask(mask int) int   { return 0 }
func restoreUmask(previous int) {}
