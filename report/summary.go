package report

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteSummary prints one line per step followed by the overall verdict.
func WriteSummary(w io.Writer, run *Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s  %s\n", run.ID, run.TargetURL)
	for _, st := range run.Steps {
		line := fmt.Sprintf("%s\t%s\t%s", st.Status(), st.Name, st.Duration.Round(time.Millisecond))
		if st.ArtifactPath != "" {
			line += "\t" + st.ArtifactPath
		}
		if !st.Passed && st.Detail != "" {
			line += "\t" + st.Detail
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("report: write summary: %w", err)
	}

	passed := 0
	for _, st := range run.Steps {
		if st.Passed {
			passed++
		}
	}
	verdict := "FAILED"
	if run.Passed {
		verdict = "PASSED"
	}
	_, err := fmt.Fprintf(w, "%s: %d/%d steps passed in %s\n",
		verdict, passed, len(run.Steps), run.Duration().Round(time.Millisecond))
	if err == nil && run.Error != "" {
		_, err = fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	if err == nil && run.BundlePath != "" {
		_, err = fmt.Fprintf(w, "frames: %s\n", run.BundlePath)
	}
	return err
}
