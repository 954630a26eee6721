package cli

import (
	"fmt"

	"github.com/pvt-x/pvtx/internal/discovery"
	"github.com/pvt-x/pvtx/internal/protocol"
	"github.com/pvt-x/pvtx/internal/refresolver"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Discover and statically validate manifests without running anything",
	Long: `Validate discovers every TestCase/TestSuite/TestPlan manifest under the
configured roots, the same pass "run" does before executing anything, then
cross-checks that every suite node and plan suite entry actually resolves —
catching a broken ref or a dangling suite/plan reference before a run ever
starts a process.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	roots := cfg.Roots.ToProtocol()
	index, err := discovery.Discover(roots)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	var problems []string
	for id, suite := range index.Suites {
		for _, node := range suite.Manifest.TestCases {
			if _, err := resolveNodeForValidate(index.Cases, roots.CasesRoot, node); err != nil {
				problems = append(problems, fmt.Sprintf("suite %s@%s: node %q: %v", id.ID, id.Version, node.NodeID, err))
			}
		}
	}
	for id, plan := range index.Plans {
		for _, entry := range plan.Manifest.TestSuites {
			suiteIdentity, err := protocol.ParseIdentity(entry.NodeID)
			if err != nil {
				problems = append(problems, fmt.Sprintf("plan %s@%s: suite entry %q: %v", id.ID, id.Version, entry.NodeID, err))
				continue
			}
			if _, ok := index.Suites[suiteIdentity]; !ok {
				problems = append(problems, fmt.Sprintf("plan %s@%s: suite entry %q does not match any discovered suite", id.ID, id.Version, entry.NodeID))
			}
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "discovered %d case(s), %d suite(s), %d plan(s)\n", len(index.Cases), len(index.Suites), len(index.Plans))
	if len(problems) == 0 {
		fmt.Fprintln(out, "validate: ok")
		return nil
	}
	for _, p := range problems {
		fmt.Fprintln(out, p)
	}
	return fmt.Errorf("validate: %d problem(s) found", len(problems))
}

// resolveNodeForValidate mirrors suiteorch.resolveNode's identity-then-ref
// resolution without needing an Orchestrator, so validate can report a
// broken node without running anything.
func resolveNodeForValidate(cases map[protocol.Identity]discovery.CaseEntry, casesRoot string, node protocol.SuiteNode) (discovery.CaseEntry, error) {
	if identity, err := protocol.ParseIdentity(node.NodeID); err == nil {
		if entry, ok := cases[identity]; ok {
			return entry, nil
		}
	}
	r, err := refresolver.Resolve(casesRoot, node.Ref)
	if err != nil {
		return discovery.CaseEntry{}, err
	}
	return discovery.CaseEntry{Manifest: r.Manifest, Dir: r.Dir}, nil
}
