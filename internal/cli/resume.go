package cli

import (
	"fmt"

	"github.com/pvt-x/pvtx/internal/engine"
	"github.com/pvt-x/pvtx/internal/transcript"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a run that suspended itself for a reboot",
	Long: `Resume validates --runId/--token against the run's persisted
session.json and, if they match, re-enters the suspended suite or plan
orchestrator at the saved iteration/node/phase (§4.10). This is the command
the autostart task (scheduled by "pvtx run" before rebooting) invokes on
the next boot; it is also safe to run by hand.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().String("runId", "", "Run id of the suspended run (required)")
	resumeCmd.Flags().String("token", "", "Resume token recorded in the suspended run's session.json (required)")
	resumeCmd.MarkFlagRequired("runId")
	resumeCmd.MarkFlagRequired("token")
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	runID, _ := cmd.Flags().GetString("runId")
	token, _ := cmd.Flags().GetString("token")

	rep := transcript.NewConsole(cmd.OutOrStdout())
	e, err := engine.New(cfg.Roots.ToProtocol(), rep, defaultAdapter(), logger)
	if err != nil {
		return err
	}

	out, err := e.Resume(cmd.Context(), runID, token)
	if err != nil {
		return fmt.Errorf("resume %s: %w", runID, err)
	}
	return printOutcome(cmd, out)
}
