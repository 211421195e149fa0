package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picamops/picamctl/pkg/config"
)

// fakeProc is one entry in the fake process table.
type fakeProc struct {
	cmdline string
	// ignoreTerm simulates a process that traps or ignores SIGTERM.
	ignoreTerm bool
	// unkillable simulates lack of privilege: every signal fails.
	unkillable bool
}

// fakeTable is an in-memory ProcessTable.
type fakeTable struct {
	mu        sync.Mutex
	procs     map[int32]*fakeProc
	portOwner int32 // 0 means the port is free
	findErr   error

	signals []string // "<sig>:<pid>" in delivery order
}

func newFakeTable() *fakeTable {
	return &fakeTable{procs: make(map[int32]*fakeProc)}
}

func (f *fakeTable) addProc(pid int32, cmdline string, ownsPort bool, opts ...func(*fakeProc)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakeProc{cmdline: cmdline}
	for _, opt := range opts {
		opt(p)
	}
	f.procs[pid] = p
	if ownsPort {
		f.portOwner = pid
	}
}

func ignoresTerm(p *fakeProc) { p.ignoreTerm = true }
func unkillable(p *fakeProc) { p.unkillable = true }

func (f *fakeTable) FindByPattern(_ context.Context, pattern string) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var matches []ProcessInfo
	for pid, p := range f.procs {
		if strings.Contains(p.cmdline, pattern) {
			matches = append(matches, ProcessInfo{PID: pid, Cmdline: p.cmdline})
		}
	}
	return matches, nil
}

func (f *fakeTable) Alive(_ context.Context, pid int32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.procs[pid]
	return ok
}

func (f *fakeTable) Signal(_ context.Context, pid int32, sig Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, fmt.Sprintf("%s:%d", sig, pid))

	p, ok := f.procs[pid]
	if !ok {
		return fmt.Errorf("process %d not found", pid)
	}
	if p.unkillable {
		return fmt.Errorf("operation not permitted")
	}
	if sig == SignalTerm && p.ignoreTerm {
		return nil // delivered but ignored
	}

	delete(f.procs, pid)
	if f.portOwner == pid {
		f.portOwner = 0
	}
	return nil
}

func (f *fakeTable) PortOwner(_ context.Context, _ int) (int32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.portOwner == 0 {
		return 0, false, nil
	}
	return f.portOwner, true, nil
}

// fakeLauncher registers a new process in the table on launch, optionally
// binding the port (a server that came up) or not (a server that died at
// startup).
type fakeLauncher struct {
	table     *fakeTable
	pid       int32
	bindsPort bool
	err       error

	launched int
}

func (l *fakeLauncher) Launch(context.Context) (int32, error) {
	l.launched++
	if l.err != nil {
		return 0, l.err
	}
	l.table.addProc(l.pid, "python3 pi_server/app.py", l.bindsPort)
	return l.pid, nil
}

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Server.Pattern = "pi_server/app.py"
	cfg.Server.Port = 5000
	return cfg
}

// noSleep records requested waits and returns immediately.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

// healthServer runs an httptest server and returns a Prober aimed at it.
func healthServer(t *testing.T, handler http.HandlerFunc) *Prober {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewProber(port, "/", 2*time.Second)
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func TestCleanupIdempotentWhenAlreadyClean(t *testing.T) {
	table := newFakeTable()
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	for i := 0; i < 2; i++ {
		report, err := m.Cleanup(context.Background())
		require.NoError(t, err)
		assert.Empty(t, report.Matched)
		assert.Empty(t, report.Terminated)
		assert.Empty(t, report.ForceKilled)
		assert.True(t, report.PortFree)
	}

	assert.Empty(t, table.signals, "no signals sent when nothing matches")
	assert.Empty(t, waits, "no grace period waited when nothing was terminated")
}

func TestCleanupGracefulTermination(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true)
	var waits []time.Duration
	cfg := testConfig()
	m := New(cfg, WithProcessTable(table), WithSleep(noSleep(&waits)))

	report, err := m.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int32{100}, report.Terminated)
	assert.Empty(t, report.ForceKilled, "no escalation when SIGTERM works")
	assert.True(t, report.PortFree)
	assert.Equal(t, []string{"SIGTERM:100"}, table.signals)
	assert.Equal(t, []time.Duration{cfg.Lifecycle.GracePeriod}, waits)
}

func TestCleanupEscalatesToKill(t *testing.T) {
	// Stale process holds the port and ignores SIGTERM; after the grace
	// period it gets SIGKILL and the port frees.
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true, ignoresTerm)
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	report, err := m.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int32{100}, report.Terminated)
	assert.Equal(t, []int32{100}, report.ForceKilled)
	assert.True(t, report.PortFree)
	assert.Equal(t, []string{"SIGTERM:100", "SIGKILL:100"}, table.signals)
}

func TestCleanupTerminatesAllMatches(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true)
	table.addProc(101, "python3 pi_server/app.py", false)
	table.addProc(200, "unrelated-daemon", false)
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	report, err := m.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Matched, 2)
	assert.ElementsMatch(t, []int32{100, 101}, report.Terminated)
	assert.True(t, report.PortFree)
	assert.True(t, table.Alive(context.Background(), 200), "unrelated process untouched")
}

func TestCleanupKillsForeignPortHolder(t *testing.T) {
	// A process outside the match set squatting on the port is still
	// force-killed: the port is the resource being liberated.
	table := newFakeTable()
	table.addProc(300, "some-other-server", true)
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	report, err := m.Cleanup(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Terminated)
	assert.Equal(t, []int32{300}, report.ForceKilled)
	assert.True(t, report.PortFree)
}

func TestCleanupReportsTerminationFailure(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true, unkillable)
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	report, err := m.Cleanup(context.Background())
	require.Error(t, err)

	var terr *TerminationError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, []int32{100}, terr.Alive)
	assert.True(t, terr.PortBound)
	assert.False(t, report.PortFree)
	assert.NotEmpty(t, report.Warnings, "signal failures surface as warnings")
}

func TestCleanupContinuesWhenDiscoveryFails(t *testing.T) {
	table := newFakeTable()
	table.findErr = errors.New("permission denied")
	table.addProc(100, "python3 pi_server/app.py", true, ignoresTerm)
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	// Discovery fails but the port check still finds and kills the holder.
	report, err := m.Cleanup(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.Warnings)
	assert.Equal(t, []int32{100}, report.ForceKilled)
	assert.True(t, report.PortFree)
}

func TestStartRefusesLaunchWhenPortStaysBound(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true, unkillable)
	launcher := &fakeLauncher{table: table, pid: 999}
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithLauncher(launcher), WithSleep(noSleep(&waits)))

	_, err := m.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refusing to launch")
	assert.Zero(t, launcher.launched, "launcher must not run against a bound port")
}

func TestStartLaunchExclusivity(t *testing.T) {
	// After start exactly one process is bound to the port.
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true)
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithLauncher(launcher), WithSleep(noSleep(&waits)))

	report, err := m.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(200), report.PID)

	owner, bound, err := table.PortOwner(context.Background(), 5000)
	require.NoError(t, err)
	assert.True(t, bound)
	assert.Equal(t, int32(200), owner)

	matches, err := table.FindByPattern(context.Background(), "pi_server/app.py")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "old instance gone, exactly one new instance")
}

func TestStartLaunchFailure(t *testing.T) {
	table := newFakeTable()
	launcher := &fakeLauncher{table: table, err: errors.New("no such file or directory")}
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithLauncher(launcher), WithSleep(noSleep(&waits)))

	_, err := m.Start(context.Background())
	require.Error(t, err)

	var lerr *LaunchError
	assert.ErrorAs(t, err, &lerr)
}

func TestRestartCleanEnvironment(t *testing.T) {
	// No process running, port free: restart launches and reports HEALTHY.
	table := newFakeTable()
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	prober := healthServer(t, okHandler)
	var waits []time.Duration
	cfg := testConfig()
	m := New(cfg,
		WithProcessTable(table),
		WithLauncher(launcher),
		WithProber(prober),
		WithSleep(noSleep(&waits)))

	report, err := m.Restart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateHealthy, report.Final)
	assert.Equal(t, int32(200), report.PID)
	assert.True(t, report.Probe.Healthy())
	assert.Contains(t, waits, cfg.Lifecycle.WarmupPeriod)

	assert.Equal(t, []State{
		StateIdle,
		StateCleaning,
		StateStarting,
		StateWarmingUp,
		StateProbing,
		StateHealthy,
	}, report.Transitions)
}

func TestRestartRecoversStalePortHolder(t *testing.T) {
	// Stale process holds the port and ignores SIGTERM: restart escalates
	// to SIGKILL, launches fresh, and ends HEALTHY.
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true, ignoresTerm)
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	prober := healthServer(t, okHandler)
	var waits []time.Duration
	m := New(testConfig(),
		WithProcessTable(table),
		WithLauncher(launcher),
		WithProber(prober),
		WithSleep(noSleep(&waits)))

	report, err := m.Restart(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateHealthy, report.Final)
	assert.Equal(t, []int32{100}, report.Cleanup.ForceKilled)
	assert.Equal(t, []string{"SIGTERM:100", "SIGKILL:100"}, table.signals)
	assert.False(t, table.Alive(context.Background(), 100))
	assert.Equal(t, int32(200), report.PID)
}

func TestRestartUnreachableServer(t *testing.T) {
	// Health endpoint never comes up: restart ends UNHEALTHY with a
	// diagnostic hint and a non-nil error.
	table := newFakeTable()
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	var waits []time.Duration
	cfg := testConfig()
	cfg.Lifecycle.ProbeTimeout = 100 * time.Millisecond
	m := New(cfg,
		WithProcessTable(table),
		WithLauncher(launcher),
		// Aimed at a port nothing listens on.
		WithProber(NewProber(1, "/health", 100*time.Millisecond)),
		WithSleep(noSleep(&waits)))

	report, err := m.Restart(context.Background())
	require.Error(t, err)

	var perr *ProbeError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "check the server log")

	assert.Equal(t, StateUnhealthy, report.Final)
	assert.False(t, report.Probe.Reachable)
	assert.Equal(t, StateUnhealthy, report.Transitions[len(report.Transitions)-1])
}

func TestRestartUnhealthyOnNonSuccessStatus(t *testing.T) {
	table := newFakeTable()
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	prober := healthServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	var waits []time.Duration
	m := New(testConfig(),
		WithProcessTable(table),
		WithLauncher(launcher),
		WithProber(prober),
		WithSleep(noSleep(&waits)))

	report, err := m.Restart(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnhealthy, report.Final)
	assert.True(t, report.Probe.Reachable)
	assert.Equal(t, http.StatusServiceUnavailable, report.Probe.StatusCode)
}

func TestRestartDoesNotLaunchAfterFailedCleanup(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true, unkillable)
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	var waits []time.Duration
	m := New(testConfig(),
		WithProcessTable(table),
		WithLauncher(launcher),
		WithSleep(noSleep(&waits)))

	report, err := m.Restart(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateUnhealthy, report.Final)
	assert.Zero(t, launcher.launched)
}

func TestStatusCleanEnvironment(t *testing.T) {
	// No process, free port: status reports that and stays read-only.
	table := newFakeTable()
	var waits []time.Duration
	m := New(testConfig(), WithProcessTable(table), WithSleep(noSleep(&waits)))

	report := m.Status(context.Background())

	assert.Empty(t, report.Processes)
	assert.False(t, report.PortBound)
	assert.False(t, report.Healthy)
	assert.Nil(t, report.Probe, "no probe against a free port")
	assert.Empty(t, table.signals, "status never signals")
}

func TestStatusHealthyServer(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true)
	prober := healthServer(t, okHandler)
	m := New(testConfig(), WithProcessTable(table), WithProber(prober))

	report := m.Status(context.Background())

	require.Len(t, report.Processes, 1)
	assert.Equal(t, int32(100), report.Processes[0].PID)
	assert.True(t, report.PortBound)
	assert.Equal(t, int32(100), report.PortOwner)
	require.NotNil(t, report.Probe)
	assert.True(t, report.Healthy)
}

func TestRestartInterruptedDuringGracePeriod(t *testing.T) {
	table := newFakeTable()
	table.addProc(100, "python3 pi_server/app.py", true)
	launcher := &fakeLauncher{table: table, pid: 200, bindsPort: true}
	m := New(testConfig(),
		WithProcessTable(table),
		WithLauncher(launcher),
		WithSleep(func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		}))

	report, err := m.Restart(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateUnhealthy, report.Final)
	assert.Zero(t, launcher.launched, "interrupted cleanup never reaches launch")
}
