package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/picamops/picamctl/internal/cli/output"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the current state of the camera server without changing
anything: matching processes, the port binding, and a best-effort probe of
the health endpoint when the port is bound.

status always exits 0; it is a report, not a check.

Examples:
  # Human-readable status
  picamctl status

  # Output as JSON
  picamctl status --output json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	_, m, err := setup()
	if err != nil {
		return err
	}

	report := m.Status(cmd.Context())

	if format != output.FormatTable {
		return output.NewPrinter(cmd.OutOrStdout(), format).Print(report)
	}

	kv := &output.KeyValueTable{}
	kv.Add("Pattern", report.Pattern)

	if len(report.Processes) == 0 {
		kv.Add("Process", "no process")
	} else {
		pids := make([]string, 0, len(report.Processes))
		for _, p := range report.Processes {
			pids = append(pids, strconv.Itoa(int(p.PID)))
		}
		kv.Add("Process", fmt.Sprintf("running (PID %s)", strings.Join(pids, ", ")))
	}

	if report.PortBound {
		owner := "owner unknown"
		if report.PortOwner > 0 {
			owner = fmt.Sprintf("PID %d", report.PortOwner)
		}
		kv.Add("Port", fmt.Sprintf("%d bound (%s)", report.Port, owner))
	} else {
		kv.Add("Port", fmt.Sprintf("%d free", report.Port))
	}

	if report.Probe != nil {
		if report.Healthy {
			kv.Add("Health", fmt.Sprintf("healthy (%d in %s)", report.Probe.StatusCode, report.Probe.Latency))
		} else if report.Probe.Reachable {
			kv.Add("Health", fmt.Sprintf("unhealthy (status %d)", report.Probe.StatusCode))
		} else {
			kv.Add("Health", "unreachable")
		}
	} else {
		kv.Add("Health", "not probed (port free)")
	}

	for _, w := range report.Warnings {
		kv.Add("Warning", w)
	}

	return output.PrintTable(cmd.OutOrStdout(), kv)
}
