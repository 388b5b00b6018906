package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/inference-sim/taskalloc-sim/sim"
)

// validateCmd checks scenario files without running them
var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>...",
	Short: "Check scenario files for errors",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := validateScenarios(cmd.OutOrStdout(), args)
		if failed > 0 {
			return fmt.Errorf("%d of %d scenario(s) invalid", failed, len(args))
		}
		return nil
	},
}

// validateScenarios reports each file on out and returns how many failed.
func validateScenarios(out io.Writer, paths []string) int {
	failed := 0
	for _, path := range paths {
		sc, err := sim.LoadScenario(path)
		if err == nil {
			err = sc.Validate()
		}
		if err != nil {
			failed++
			logrus.WithField("scenario", path).Debugf("validation failed: %v", err)
			fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(out, "ok   %s (%d tasks, root %s)\n", path, len(sc.Tasks), sc.Root)
	}
	return failed
}
