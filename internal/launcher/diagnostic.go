package launcher

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// RenderDiagnostic writes a human-readable block describing err: the failed
// step, the error chain and remediation hints.
func RenderDiagnostic(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	var le *Error
	if !errors.As(err, &le) {
		le = &Error{Step: "launch", Err: err}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s Localis failed to start\n", red("✗"))
	if le.Kind != 0 {
		fmt.Fprintf(w, "  %s %s\n", cyan("Error:"), le.Kind)
	}
	fmt.Fprintf(w, "  %s %s\n", cyan("Step: "), le.Step)
	if le.Err != nil {
		lines := strings.Split(strings.TrimSpace(le.Err.Error()), "\n")
		fmt.Fprintf(w, "  %s %s\n", cyan("Cause:"), lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(w, "         %s\n", line)
		}
	}
	if len(le.Hints) > 0 {
		fmt.Fprintf(w, "\n  %s\n", yellow("What to try:"))
		for _, hint := range le.Hints {
			fmt.Fprintf(w, "    - %s\n", hint)
		}
	}
	fmt.Fprintln(w)
}
