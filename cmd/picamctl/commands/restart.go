package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Full restart workflow: cleanup, launch, warm-up, health probe",
	Long: `Run the whole restart workflow: terminate any running instance,
verify the port is free, launch a fresh instance, wait the warm-up period,
and probe the health endpoint once.

Exits 0 and prints HEALTHY only when the probe succeeds. On failure the
workflow stops in UNHEALTHY with a diagnostic hint; there is no automatic
retry, run the command again after investigating.

Examples:
  # Restart and verify
  picamctl restart

  # Restart with JSON logs for a supervisor to collect
  PICAMCTL_LOGGING_FORMAT=json picamctl restart`,
	RunE: runRestart,
}

func runRestart(cmd *cobra.Command, args []string) error {
	cfg, m, err := setup()
	if err != nil {
		return err
	}

	if err := ensureStateDir(); err != nil {
		return err
	}

	report, err := m.Restart(cmd.Context())
	if err != nil {
		fmt.Println("UNHEALTHY")
		return err
	}

	fmt.Println("HEALTHY")
	fmt.Printf("Server running (PID %d) on port %d, health endpoint responded %d in %s\n",
		report.PID, cfg.Server.Port, report.Probe.StatusCode, report.Probe.Latency)
	return nil
}
