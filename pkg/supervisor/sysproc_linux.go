//go:build linux

package supervisor

import "syscall"

// The kernel kills the child if the host dies without running its hooks.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}
}
