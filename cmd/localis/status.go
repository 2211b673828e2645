package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/localis-app/launcher/internal/config"
	"github.com/localis-app/launcher/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running launcher's status",
	Long: `Query a running launcher through its status socket (logs/launcher.sock in
the install root) and print its phase, URL and what happened to the
application checkout during this run.

A "degraded" sync means the existing checkout could not be updated and the
server is running the code that was already on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if code := showStatus(defaultEnvironment(), timeout); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Duration("timeout", 5*time.Second, "How long to wait for the launcher to answer")
	rootCmd.AddCommand(statusCmd)
}

// controlSocket returns the status socket path for the resolved install root.
// A missing repository URL does not matter here.
func controlSocket(env environment) (string, error) {
	cfg, err := env.resolveConfig()
	if cfg == nil || cfg.InstallRoot == "" {
		return "", err
	}
	return controlSocketFor(cfg), nil
}

func controlSocketFor(cfg *config.Config) string {
	return filepath.Join(cfg.LogsDir(), control.SocketName)
}

func showStatus(env environment, timeout time.Duration) int {
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	socket, err := controlSocket(env)
	if err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	client := control.NewClient(socket)
	client.SetTimeout(timeout)
	resp, err := client.Status()
	if err != nil {
		fmt.Fprintf(env.stdout, "%s No running launcher found\n", yellow("ℹ"))
		return 1
	}
	if !resp.Success || resp.Status == nil {
		fmt.Fprintf(env.stderr, "Error: %s\n", resp.Error)
		return 1
	}

	s := resp.Status
	fmt.Fprintf(env.stdout, "\n%s\n\n", cyan("=== Localis ==="))
	fmt.Fprintf(env.stdout, "  Phase:   %s\n", green(s.Phase))
	if s.URL != "" {
		fmt.Fprintf(env.stdout, "  URL:     %s\n", s.URL)
	} else {
		fmt.Fprintf(env.stdout, "  Address: %s:%d\n", s.Host, s.Port)
	}
	if s.PID != 0 {
		fmt.Fprintf(env.stdout, "  PID:     %d\n", s.PID)
	}
	fmt.Fprintf(env.stdout, "  Uptime:  %s\n", formatDuration(time.Since(s.StartedAt)))
	fmt.Fprintf(env.stdout, "  Run:     %s\n", s.RunID)
	fmt.Fprintf(env.stdout, "  App:     %s (%s)\n", s.AppDir, s.Branch)

	switch s.Sync.Outcome {
	case control.SyncCloned, control.SyncUpdated:
		fmt.Fprintf(env.stdout, "  Sync:    %s %s\n", green(s.Sync.Outcome), shortHead(s.Sync.Head))
	case control.SyncDegraded:
		fmt.Fprintf(env.stdout, "  Sync:    %s (running existing checkout)\n", red(s.Sync.Outcome))
		fmt.Fprintf(env.stdout, "           %s\n", firstLine(s.Sync.Reason))
	case control.SyncSkipped:
		fmt.Fprintf(env.stdout, "  Sync:    %s (%s)\n", yellow(s.Sync.Outcome), s.Sync.Reason)
	default:
		fmt.Fprintf(env.stdout, "  Sync:    pending\n")
	}
	fmt.Fprintln(env.stdout)
	return 0
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func shortHead(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
