// Package lifecycle implements idempotent process-lifecycle management for a
// singleton network service: discover running instances by command-line
// pattern, terminate them (graceful then forced), verify the listen port is
// free, launch a fresh detached instance, and probe its health endpoint.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Signal selects between the two termination phases.
type Signal int

const (
	// SignalTerm requests graceful shutdown (SIGTERM); the target may
	// intercept it to close sockets and release hardware.
	SignalTerm Signal = iota
	// SignalKill forces immediate death (SIGKILL); cannot be intercepted.
	SignalKill
)

func (s Signal) String() string {
	if s == SignalKill {
		return "SIGKILL"
	}
	return "SIGTERM"
}

// ProcessInfo identifies one discovered instance of the target server.
type ProcessInfo struct {
	PID     int32  `json:"pid" yaml:"pid"`
	Cmdline string `json:"cmdline" yaml:"cmdline"`
}

// ProcessTable abstracts the OS process and socket tables so the workflow can
// be exercised in tests with a fake implementation.
type ProcessTable interface {
	// FindByPattern returns all processes whose command line contains
	// pattern. The calling process itself is never included.
	FindByPattern(ctx context.Context, pattern string) ([]ProcessInfo, error)

	// Alive reports whether pid is still present in the process table.
	Alive(ctx context.Context, pid int32) bool

	// Signal delivers sig to pid.
	Signal(ctx context.Context, pid int32, sig Signal) error

	// PortOwner returns the PID owning a TCP LISTEN binding on port.
	// The boolean is false when the port is free. A returned PID of 0
	// with true means the port is bound but the owner could not be
	// resolved (typically a privilege limitation).
	PortOwner(ctx context.Context, port int) (int32, bool, error)
}

// SystemTable is the real ProcessTable backed by gopsutil.
type SystemTable struct{}

var _ ProcessTable = SystemTable{}

// FindByPattern scans the live process table for command lines containing
// pattern, excluding the manager's own process.
func (SystemTable) FindByPattern(ctx context.Context, pattern string) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate processes: %w", err)
	}

	self := int32(os.Getpid())

	var matches []ProcessInfo
	for _, p := range procs {
		if p.Pid == self {
			continue
		}

		// Processes we cannot inspect (exited or owned by another
		// user without privilege) are skipped, not fatal.
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil || cmdline == "" {
			continue
		}

		if strings.Contains(cmdline, pattern) {
			matches = append(matches, ProcessInfo{PID: p.Pid, Cmdline: cmdline})
		}
	}

	return matches, nil
}

// Alive reports whether pid exists in the process table.
func (SystemTable) Alive(ctx context.Context, pid int32) bool {
	exists, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && exists
}

// Signal delivers sig to pid.
func (SystemTable) Signal(ctx context.Context, pid int32, sig Signal) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("process %d not found: %w", pid, err)
	}

	if sig == SignalKill {
		err = p.KillWithContext(ctx)
	} else {
		err = p.TerminateWithContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to send %s to process %d: %w", sig, pid, err)
	}

	return nil
}

// PortOwner looks for a TCP listener bound to port.
func (SystemTable) PortOwner(ctx context.Context, port int) (int32, bool, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return 0, false, fmt.Errorf("failed to read socket table: %w", err)
	}

	for _, conn := range conns {
		if conn.Status == "LISTEN" && conn.Laddr.Port == uint32(port) {
			return conn.Pid, true, nil
		}
	}

	return 0, false, nil
}
