//go:build linux

package fattr

import "golang.org/x/sys/unix"

// statFlags reports false on platforms with no BSD-style chflags:
// csup still tracks the field across the wire, it just never has a
// local value to set or compare on these systems.
func statFlags(_ *unix.Stat_t) (uint32, bool) {
	return 0, false
}

func chflags(_ string, _ uint32) error {
	return nil
}
