package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/picamops/picamctl/internal/logger"
	"github.com/picamops/picamctl/pkg/config"
)

// killSettleDelay is how long to wait after SIGKILL before re-reading the
// process and socket tables; the kernel needs a moment to reap.
const killSettleDelay = 200 * time.Millisecond

// Manager orchestrates the restart workflow for the singleton target server.
// It keeps no state between invocations: everything is re-derived from the
// live process and socket tables, so an interrupted run is recovered simply
// by running again.
type Manager struct {
	cfg      *config.Config
	table    ProcessTable
	launcher Launcher
	prober   *Prober
	sleep    func(context.Context, time.Duration) error

	state       State
	transitions []State
}

// Option customizes a Manager, mainly for tests.
type Option func(*Manager)

// WithProcessTable replaces the OS-backed process table.
func WithProcessTable(t ProcessTable) Option {
	return func(m *Manager) { m.table = t }
}

// WithLauncher replaces the exec-based launcher.
func WithLauncher(l Launcher) Option {
	return func(m *Manager) { m.launcher = l }
}

// WithProber replaces the health prober.
func WithProber(p *Prober) Option {
	return func(m *Manager) { m.prober = p }
}

// WithSleep replaces the fixed-duration waits, so tests run instantly.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(m *Manager) { m.sleep = fn }
}

// New creates a Manager for the configured target server.
func New(cfg *config.Config, opts ...Option) *Manager {
	m := &Manager{
		cfg:   cfg,
		table: SystemTable{},
		launcher: &ExecLauncher{
			Command: cfg.Server.Command,
			WorkDir: cfg.Server.WorkDir,
		},
		prober: NewProber(cfg.Server.Port, cfg.Server.HealthPath, cfg.Lifecycle.ProbeTimeout),
		sleep:  sleepCtx,
		state:  StateIdle,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// State returns the current workflow state.
func (m *Manager) State() State {
	return m.state
}

func (m *Manager) setState(s State) {
	m.state = s
	m.transitions = append(m.transitions, s)
	logger.Debug("workflow transition", "state", s.String())
}

// CleanupReport records what the termination phase did.
type CleanupReport struct {
	// Matched lists the discovered instances of the target server.
	Matched []ProcessInfo `json:"matched" yaml:"matched"`
	// Terminated lists PIDs that received SIGTERM.
	Terminated []int32 `json:"terminated,omitempty" yaml:"terminated,omitempty"`
	// ForceKilled lists PIDs that received SIGKILL after the grace period.
	ForceKilled []int32 `json:"force_killed,omitempty" yaml:"force_killed,omitempty"`
	// PortFree reports the final port state.
	PortFree bool `json:"port_free" yaml:"port_free"`
	// Warnings collects non-fatal problems (discovery or signal failures).
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Cleanup terminates every instance of the target server and liberates the
// port. Graceful first, forced after the grace period, one escalation only.
// It is idempotent: with nothing matching and the port free it succeeds
// immediately with no side effects.
func (m *Manager) Cleanup(ctx context.Context) (*CleanupReport, error) {
	m.setState(StateCleaning)
	report := &CleanupReport{}

	matches, err := m.table.FindByPattern(ctx, m.cfg.Server.Pattern)
	if err != nil {
		derr := &DiscoveryError{Err: err}
		logger.Warn("process discovery failed, continuing with port check only", "error", err)
		report.Warnings = append(report.Warnings, derr.Error())
	}
	report.Matched = matches

	ownerPID, bound, portErr := m.table.PortOwner(ctx, m.cfg.Server.Port)
	if portErr != nil {
		logger.Warn("socket table check failed", "error", portErr)
		report.Warnings = append(report.Warnings, portErr.Error())
	}

	// Already clean: nothing matched and nothing bound.
	if len(matches) == 0 && !bound && portErr == nil {
		report.PortFree = true
		logger.Info("nothing to clean up", "pattern", m.cfg.Server.Pattern, "port", m.cfg.Server.Port)
		return report, nil
	}

	for _, p := range matches {
		logger.Info("requesting graceful shutdown", "pid", p.PID, "cmdline", p.Cmdline)
		if err := m.table.Signal(ctx, p.PID, SignalTerm); err != nil {
			logger.Warn("graceful signal failed", "pid", p.PID, "error", err)
			report.Warnings = append(report.Warnings, err.Error())
			continue
		}
		report.Terminated = append(report.Terminated, p.PID)
	}

	if len(report.Terminated) > 0 {
		m.setState(StateWaitingForCleanup)
		logger.Debug("waiting grace period", "duration", m.cfg.Lifecycle.GracePeriod)
		if err := m.sleep(ctx, m.cfg.Lifecycle.GracePeriod); err != nil {
			return report, err
		}
	}

	// Escalate: any matched process still alive, plus whatever still owns
	// the port (a holder outside the match set is force-killed too, the
	// port is the resource being liberated).
	targets := make(map[int32]struct{})
	for _, p := range matches {
		if m.table.Alive(ctx, p.PID) {
			targets[p.PID] = struct{}{}
		}
	}
	ownerPID, bound, portErr = m.table.PortOwner(ctx, m.cfg.Server.Port)
	if portErr == nil && bound && ownerPID > 0 {
		targets[ownerPID] = struct{}{}
	}

	for _, pid := range sortedPIDs(targets) {
		logger.Warn("escalating to SIGKILL", "pid", pid)
		if err := m.table.Signal(ctx, pid, SignalKill); err != nil {
			logger.Warn("forced kill failed", "pid", pid, "error", err)
			report.Warnings = append(report.Warnings, err.Error())
			continue
		}
		report.ForceKilled = append(report.ForceKilled, pid)
	}

	if len(report.ForceKilled) > 0 {
		if err := m.sleep(ctx, killSettleDelay); err != nil {
			return report, err
		}
	}

	// Post-condition: no matched process alive, no listener on the port.
	var alive []int32
	for _, p := range matches {
		if m.table.Alive(ctx, p.PID) {
			alive = append(alive, p.PID)
		}
	}
	ownerPID, bound, portErr = m.table.PortOwner(ctx, m.cfg.Server.Port)
	if portErr != nil {
		report.Warnings = append(report.Warnings, portErr.Error())
	}
	report.PortFree = portErr == nil && !bound

	if len(alive) > 0 || bound {
		terr := &TerminationError{Alive: alive, PortOwner: ownerPID, PortBound: bound}
		logger.Error("cleanup incomplete", "alive", alive, "port_bound", bound, "port_owner", ownerPID)
		return report, terr
	}

	logger.Info("cleanup complete",
		"terminated", len(report.Terminated),
		"force_killed", len(report.ForceKilled),
		"port", m.cfg.Server.Port)
	return report, nil
}

// StartReport records the outcome of cleanup plus launch.
type StartReport struct {
	Cleanup *CleanupReport `json:"cleanup" yaml:"cleanup"`
	// PID is the launched server's process ID.
	PID int32 `json:"pid,omitempty" yaml:"pid,omitempty"`
}

// Start runs cleanup and then launches a fresh instance. Launch is gated on
// the port being confirmed free; a failed cleanup blocks the start instead
// of racing the old listener for the bind.
func (m *Manager) Start(ctx context.Context) (*StartReport, error) {
	cleanup, err := m.Cleanup(ctx)
	report := &StartReport{Cleanup: cleanup}
	if err != nil {
		return report, fmt.Errorf("refusing to launch: %w", err)
	}

	if !cleanup.PortFree {
		ownerPID, bound, portErr := m.table.PortOwner(ctx, m.cfg.Server.Port)
		if portErr != nil {
			return report, fmt.Errorf("refusing to launch, port state unknown: %w", portErr)
		}
		if bound {
			return report, fmt.Errorf("refusing to launch: %w", &TerminationError{PortOwner: ownerPID, PortBound: true})
		}
	}

	m.setState(StateStarting)
	pid, err := m.launcher.Launch(ctx)
	if err != nil {
		return report, &LaunchError{Err: err}
	}

	report.PID = pid
	logger.Info("server launched", "pid", pid, "command", m.cfg.Server.Command)
	return report, nil
}

// RestartReport records the full workflow outcome.
type RestartReport struct {
	Cleanup *CleanupReport    `json:"cleanup" yaml:"cleanup"`
	PID     int32             `json:"pid,omitempty" yaml:"pid,omitempty"`
	Probe   HealthCheckResult `json:"probe" yaml:"probe"`
	// Transitions lists every state the workflow passed through.
	Transitions []State `json:"-" yaml:"-"`
	// Final is HEALTHY or UNHEALTHY.
	Final State `json:"final" yaml:"final"`
}

// Restart runs the whole workflow: cleanup, port gate, launch, warm-up,
// probe. It returns nil only when the probe reports the server healthy.
// On any failure the workflow stops in UNHEALTHY; there is no automatic
// re-run, the operator re-invokes.
func (m *Manager) Restart(ctx context.Context) (*RestartReport, error) {
	m.transitions = m.transitions[:0]
	m.setState(StateIdle)

	report := &RestartReport{}
	finish := func(s State, err error) (*RestartReport, error) {
		m.setState(s)
		report.Final = s
		report.Transitions = append([]State(nil), m.transitions...)
		return report, err
	}

	start, err := m.Start(ctx)
	report.Cleanup = start.Cleanup
	report.PID = start.PID
	if err != nil {
		return finish(StateUnhealthy, err)
	}

	m.setState(StateWarmingUp)
	logger.Debug("warming up", "duration", m.cfg.Lifecycle.WarmupPeriod)
	if err := m.sleep(ctx, m.cfg.Lifecycle.WarmupPeriod); err != nil {
		return finish(StateUnhealthy, err)
	}

	m.setState(StateProbing)
	result := m.prober.Probe(ctx)
	report.Probe = result

	if !result.Healthy() {
		return finish(StateUnhealthy, &ProbeError{Result: result})
	}

	logger.Info("server is healthy",
		"pid", report.PID,
		"status", result.StatusCode,
		"latency", result.Latency)
	return finish(StateHealthy, nil)
}

// StatusReport is a read-only snapshot of the managed service.
type StatusReport struct {
	Pattern   string             `json:"pattern" yaml:"pattern"`
	Processes []ProcessInfo      `json:"processes" yaml:"processes"`
	Port      int                `json:"port" yaml:"port"`
	PortBound bool               `json:"port_bound" yaml:"port_bound"`
	PortOwner int32              `json:"port_owner,omitempty" yaml:"port_owner,omitempty"`
	Probe     *HealthCheckResult `json:"probe,omitempty" yaml:"probe,omitempty"`
	Healthy   bool               `json:"healthy" yaml:"healthy"`
	Warnings  []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// Status inspects the process table, the port binding, and the health
// endpoint without changing anything. It is best-effort and never fails:
// problems are reported as warnings inside the snapshot.
func (m *Manager) Status(ctx context.Context) *StatusReport {
	report := &StatusReport{
		Pattern: m.cfg.Server.Pattern,
		Port:    m.cfg.Server.Port,
	}

	matches, err := m.table.FindByPattern(ctx, m.cfg.Server.Pattern)
	if err != nil {
		report.Warnings = append(report.Warnings, (&DiscoveryError{Err: err}).Error())
	}
	report.Processes = matches

	ownerPID, bound, err := m.table.PortOwner(ctx, m.cfg.Server.Port)
	if err != nil {
		report.Warnings = append(report.Warnings, err.Error())
	}
	report.PortBound = bound
	report.PortOwner = ownerPID

	if bound {
		result := m.prober.Probe(ctx)
		report.Probe = &result
		report.Healthy = result.Healthy()
	}

	return report
}

func sortedPIDs(set map[int32]struct{}) []int32 {
	pids := make([]int32, 0, len(set))
	for pid := range set {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
