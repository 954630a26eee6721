package transcript

import (
	"fmt"
	"io"

	"github.com/pvt-x/pvtx/internal/reporter"
)

// Console is a reporter.Reporter that writes each formatted call as one
// line to an io.Writer (os.Stdout in the CLI), mirroring the teacher's
// scheduler printing transcript.FormatX results directly to the console as
// they arrive.
type Console struct {
	out io.Writer
	fmt *Formatter
}

// NewConsole constructs a Console reporter writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out, fmt: NewFormatter()}
}

func (c *Console) OnRunPlanned(runID, runType string, plannedNodes []string) {
	fmt.Fprintln(c.out, c.fmt.FormatRunPlanned(runID, runType, plannedNodes))
}

func (c *Console) OnNodeStarted(runID, nodeID string) {
	fmt.Fprintln(c.out, c.fmt.FormatNodeStarted(runID, nodeID))
}

func (c *Console) OnNodeFinished(runID string, result reporter.NodeResult) {
	fmt.Fprintln(c.out, c.fmt.FormatNodeFinished(runID, result))
}

func (c *Console) OnRunFinished(runID, finalStatus string) {
	fmt.Fprintln(c.out, c.fmt.FormatRunFinished(runID, finalStatus))
}

var _ reporter.Reporter = (*Console)(nil)
