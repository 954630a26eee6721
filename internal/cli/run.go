package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pvt-x/pvtx/internal/engine"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/transcript"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a test case, suite, or plan",
	Long: `Run discovers every TestCase/TestSuite/TestPlan manifest under the
configured roots and executes exactly one of --case, --suite, or --plan by
identity ("Id@Version"), printing progress as it runs.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("case", "", "TestCase identity to run standalone (Id@Version)")
	runCmd.Flags().String("suite", "", "TestSuite identity to run (Id@Version)")
	runCmd.Flags().String("plan", "", "TestPlan identity to run (Id@Version)")
	runCmd.Flags().StringSlice("env", nil, "Environment override, KEY=VALUE (repeatable)")
	runCmd.Flags().StringSlice("input", nil, "Case input override for a standalone --case run, NAME=JSONVALUE (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	caseID, _ := cmd.Flags().GetString("case")
	suiteID, _ := cmd.Flags().GetString("suite")
	planID, _ := cmd.Flags().GetString("plan")
	envFlags, _ := cmd.Flags().GetStringSlice("env")
	inputFlags, _ := cmd.Flags().GetStringSlice("input")

	req, err := buildRunRequest(caseID, suiteID, planID, envFlags, inputFlags)
	if err != nil {
		return err
	}

	rep := transcript.NewConsole(cmd.OutOrStdout())
	e, err := engine.New(cfg.Roots.ToProtocol(), rep, defaultAdapter(), logger)
	if err != nil {
		return err
	}

	out, err := e.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printOutcome(cmd, out)
}

// buildRunRequest enforces "exactly one of --case/--suite/--plan" at the
// CLI layer before protocol.RunRequest.Validate sees the same rule, so a
// malformed invocation gets a CLI-flavored error instead of a bare
// validation code.
func buildRunRequest(caseID, suiteID, planID string, envFlags, inputFlags []string) (protocol.RunRequest, error) {
	set := 0
	if caseID != "" {
		set++
	}
	if suiteID != "" {
		set++
	}
	if planID != "" {
		set++
	}
	if set != 1 {
		return protocol.RunRequest{}, fmt.Errorf("exactly one of --case, --suite, --plan must be given")
	}

	env, err := parseKeyValueFlags(envFlags)
	if err != nil {
		return protocol.RunRequest{}, fmt.Errorf("invalid --env: %w", err)
	}

	req := protocol.RunRequest{EnvironmentOverrides: protocol.EnvOverride{Env: env}}
	switch {
	case caseID != "":
		inputs, err := parseInputFlags(inputFlags)
		if err != nil {
			return protocol.RunRequest{}, fmt.Errorf("invalid --input: %w", err)
		}
		req.TestCase = &protocol.CaseRunRequest{Identity: caseID, CaseInputs: inputs}
	case suiteID != "":
		if len(inputFlags) > 0 {
			return protocol.RunRequest{}, fmt.Errorf("--input is only valid with --case")
		}
		req.Suite = &protocol.SuiteRunRequest{Identity: suiteID}
	case planID != "":
		if len(inputFlags) > 0 {
			return protocol.RunRequest{}, fmt.Errorf("--input is only valid with --case")
		}
		req.Plan = &protocol.PlanRunRequest{Identity: planID}
	}
	return req, nil
}

func parseKeyValueFlags(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(flags))
	for _, raw := range flags {
		key, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", raw)
		}
		out[key] = value
	}
	return out, nil
}

// parseInputFlags accepts NAME=JSONVALUE (e.g. ExitCode=0, Message="hi")
// so a bare string still round-trips through json.RawMessage the way the
// resolver's templates expect it.
func parseInputFlags(flags []string) (map[string]json.RawMessage, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	out := make(map[string]json.RawMessage, len(flags))
	for _, raw := range flags {
		name, value, ok := strings.Cut(raw, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("expected NAME=JSONVALUE, got %q", raw)
		}
		if !json.Valid([]byte(value)) {
			return nil, fmt.Errorf("%s: %q is not valid JSON (quote strings, e.g. Message=\"hi\")", name, value)
		}
		out[name] = json.RawMessage(value)
	}
	return out, nil
}

func printOutcome(cmd *cobra.Command, out engine.Outcome) error {
	if out.Reboot != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s suspended for reboot: %s\n", out.RunID, out.Reboot.Reason)
		return nil
	}
	if out.Case != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", out.RunID, out.Case.Status)
		if out.Case.Status != protocol.StatusPassed {
			return fmt.Errorf("run %s did not pass: %s", out.RunID, out.Case.Status)
		}
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s finished: %s\n", out.RunID, out.Result.Status)
	if out.Result.Status != protocol.StatusPassed {
		return fmt.Errorf("run %s did not pass: %s", out.RunID, out.Result.Status)
	}
	return nil
}
