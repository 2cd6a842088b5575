//go:build linux

// Package memlock pins the process address space so derived keys and
// decrypted seeds never reach swap. Best effort: failure is reported,
// not fatal, since RLIMIT_MEMLOCK is often too low for unprivileged
// processes.
package memlock

import (
	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

// Lock locks current and future pages into RAM.
func Lock() error {
	if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
		log.Warn().Err(err).Msg("mlockall failed; secrets may be swapped to disk")
		return err
	}
	log.Debug().Msg("process memory locked")
	return nil
}
