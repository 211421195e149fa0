package lifecycle

import (
	"fmt"
	"strings"
)

// DiscoveryError reports a failure to enumerate the process table.
// It is non-fatal: the workflow continues best-effort without the process
// list and relies on the port check instead.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("process discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// TerminationError reports that processes or the port binding survived the
// forced-kill phase, usually due to lack of privilege. It blocks a safe
// launch: starting a new instance against a bound port would fail anyway.
type TerminationError struct {
	// Alive lists matched PIDs still present after SIGKILL.
	Alive []int32
	// PortOwner is the PID still bound to the port, 0 if unknown.
	PortOwner int32
	// PortBound reports whether the port is still bound.
	PortBound bool
}

func (e *TerminationError) Error() string {
	var parts []string
	if len(e.Alive) > 0 {
		parts = append(parts, fmt.Sprintf("processes still alive after SIGKILL: %v", e.Alive))
	}
	if e.PortBound {
		if e.PortOwner > 0 {
			parts = append(parts, fmt.Sprintf("port still bound by PID %d", e.PortOwner))
		} else {
			parts = append(parts, "port still bound (owner unknown, may require elevated privileges)")
		}
	}
	if len(parts) == 0 {
		return "termination incomplete"
	}
	return "termination incomplete: " + strings.Join(parts, "; ")
}

// LaunchError reports that the target server could not be started.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch server: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ProbeError is the terminal UNHEALTHY outcome: the health endpoint did not
// return success within the probe timeout. The message carries remediation
// hints for the operator; the manager never retries on its own.
type ProbeError struct {
	Result HealthCheckResult
}

func (e *ProbeError) Error() string {
	reason := "endpoint unreachable"
	if e.Result.Err != nil {
		reason = e.Result.Err.Error()
	} else if e.Result.Reachable {
		reason = fmt.Sprintf("endpoint returned status %d", e.Result.StatusCode)
	}
	return fmt.Sprintf("health probe failed: %s (check the server log, then re-run restart or start the server manually)", reason)
}
