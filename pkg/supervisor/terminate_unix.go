//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// terminateProcess asks redis to shut down cleanly.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
