//go:build !windows

package lifecycle

import "syscall"

// detachedProcAttr puts the child in its own session so it is not killed
// when the manager's terminal or process group goes away.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
