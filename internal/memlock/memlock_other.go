//go:build !linux

package memlock

import "github.com/rs/zerolog/log"

// Lock is a no-op where mlockall is unavailable.
func Lock() error {
	log.Debug().Msg("memory locking not supported on this platform")
	return nil
}
