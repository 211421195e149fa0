package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Clean up and launch a fresh server instance",
	Long: `Run cleanup and then launch a fresh, detached instance of the camera
server. The launch only happens once the port is confirmed free; a failed
cleanup blocks the start instead of racing the old listener for the bind.

The new process runs in its own session and outlives picamctl. Its output
goes to the log file under $XDG_STATE_HOME/picamctl. No health check is
performed; use 'picamctl restart' for the full verified workflow.

Examples:
  # Start with defaults (python3 app.py in ~/pi-server, port 5000)
  picamctl start

  # Start with a custom config
  picamctl start --config /etc/picamctl/config.yaml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}

	if err := ensureStateDir(); err != nil {
		return err
	}

	report, err := m.Start(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Server started in background (PID %d) on port %d\n", report.PID, cfg.Server.Port)
	fmt.Printf("  PID file: %s\n", GetDefaultPidFile())
	fmt.Printf("  Log file: %s\n", GetDefaultLogFile())
	fmt.Println("\nUse 'picamctl status' to check server status")
	return nil
}
