//go:build windows

package lifecycle

import "syscall"

const createNewProcessGroup = 0x00000200

// detachedProcAttr detaches the child into its own process group.
func detachedProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
}
