package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Terminate running server instances and free the port",
	Long: `Find every running instance of the camera server, request graceful
shutdown (SIGTERM), and after the grace period force-kill (SIGKILL) anything
still alive or still bound to the port.

Running cleanup when nothing matches and the port is free is a no-op and
succeeds. The command exits non-zero when a process or the port binding
survives the forced kill, typically because of missing privileges.

Examples:
  # Clean up with defaults
  picamctl cleanup

  # Clean up with a custom config
  picamctl cleanup --config /etc/picamctl/config.yaml`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	_, m, err := setup()
	if err != nil {
		return err
	}

	report, err := m.Cleanup(cmd.Context())
	if err != nil {
		return err
	}

	if len(report.Matched) == 0 {
		fmt.Println("Nothing to clean up: no matching process, port is free")
		return nil
	}

	fmt.Printf("Cleanup complete: %d terminated, %d force-killed, port free\n",
		len(report.Terminated), len(report.ForceKilled))
	return nil
}
