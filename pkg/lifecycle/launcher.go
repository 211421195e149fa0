package lifecycle

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Launcher starts a fresh instance of the target server.
type Launcher interface {
	// Launch starts the server detached from the calling process and
	// returns its PID. The child must outlive the manager; there is no
	// supervision after launch.
	Launch(ctx context.Context) (int32, error)
}

// ExecLauncher launches the target server with os/exec in a new session so
// it survives the manager exiting. Stdout and stderr go to LogFile; the new
// PID is written to PidFile for operator convenience (discovery never reads
// it back, the process table is the source of truth).
type ExecLauncher struct {
	// Command is the argv of the target server.
	Command []string
	// WorkDir is the working directory for the child.
	WorkDir string
	// LogFile receives the child's stdout and stderr. Empty means discard.
	LogFile string
	// PidFile, if set, records the new PID.
	PidFile string
}

var _ Launcher = (*ExecLauncher)(nil)

// Launch starts the server process.
func (l *ExecLauncher) Launch(ctx context.Context) (int32, error) {
	if len(l.Command) == 0 {
		return 0, fmt.Errorf("no launch command configured")
	}

	// Deliberately not exec.CommandContext: the child must not be killed
	// when the manager's context ends.
	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Dir = l.WorkDir
	cmd.SysProcAttr = detachedProcAttr()

	logPath := l.LogFile
	if logPath == "" {
		logPath = os.DevNull
	}
	logHandle, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("failed to open log file: %w", err)
	}
	cmd.Stdout = logHandle
	cmd.Stderr = logHandle

	if err := cmd.Start(); err != nil {
		_ = logHandle.Close()
		return 0, fmt.Errorf("failed to start %q: %w", l.Command[0], err)
	}
	_ = logHandle.Close()

	pid := int32(cmd.Process.Pid)

	if l.PidFile != "" {
		if err := os.MkdirAll(filepath.Dir(l.PidFile), 0755); err == nil {
			_ = os.WriteFile(l.PidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644)
		}
	}

	// Reap the child if it exits while the manager is still running;
	// after the manager exits, init adopts it.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}
