package obs

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// SummaryFileName returns the name of the update log for a step range:
// "0042" for a single step and "0040-0042" for a range
func SummaryFileName(step1, step2 int) string {
	if step1 == step2 {
		return fmt.Sprintf("%04d", step2)
	}
	return fmt.Sprintf("%04d-%04d", step1, step2)
}

// WriteSummary writes one line per observation point with its value, the
// ensemble statistics and whether it took part in the update
func (d *Data) WriteSummary(w io.Writer, ministep string) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "Ministep: %s\n", ministep)
	fmt.Fprintf(bw, "%s\n", "------------------------------------------------------------------------------------------------")
	fmt.Fprintf(bw, "%5s  %-24s %6s %6s %14s %12s %14s %12s  %s\n",
		"#", "Observation", "Step", "Index", "Value", "Std", "Ens mean", "Ens std", "Status")
	for i, o := range d.Obs {
		status := "active"
		if !o.Active {
			status = "inactive: " + o.Reason
		}
		fmt.Fprintf(bw, "%5d  %-24s %6d %6d %14.5g %12.5g %14.5g %12.5g  %s\n",
			i+1, o.Key, o.Step, o.Index, o.Value, o.Std, o.EnsMean, o.EnsStd, status)
	}
	fmt.Fprintf(bw, "Active observations: %d of %d\n\n", d.ActiveSize(), len(d.Obs))
	return bw.Flush()
}

// AppendSummary appends the summary to the update log file for the step
// range in dir, creating dir when needed
func (d *Data) AppendSummary(dir string, step1, step2 int, ministep string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create update log directory: %w", err)
	}
	path := filepath.Join(dir, SummaryFileName(step1, step2))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to open update log: %w", err)
	}
	defer f.Close()
	if err := d.WriteSummary(f, ministep); err != nil {
		return "", fmt.Errorf("failed to write update log: %w", err)
	}
	return path, nil
}
