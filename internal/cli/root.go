// Package cli implements the pvtx command-line entry points: run, resume,
// and validate, one file per subcommand in the teacher's own layout
// (root.go + one file per verb).
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pvtx",
	Short: "Local PC hardware/OS test orchestration engine",
	Long: `pvtx is a local, on-machine test orchestration engine: it discovers
TestCase/TestSuite/TestPlan manifests under configured roots, resolves their
inputs and environment, runs them (with retry, reboot/resume, and status
aggregation), and records every artifact in a run folder.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to pvtx.json config file (default: ./pvtx.json)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
