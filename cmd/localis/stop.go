package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/localis-app/launcher/internal/control"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running launcher and its server",
	Long: `Ask a running launcher to shut down, exactly as if Ctrl+C had been pressed
in its window: the server gets a termination request and the grace period
before it is killed.

Example:
  $ localis stop
  → Localis running at http://127.0.0.1:8000 (PID 4242)
  ✓ Stop requested`,
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		if code := stopLauncher(defaultEnvironment(), reason); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

func init() {
	stopCmd.Flags().String("reason", "localis stop", "Reason recorded in the launcher log")
	rootCmd.AddCommand(stopCmd)
}

func stopLauncher(env environment, reason string) int {
	cyan := color.New(color.FgCyan).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	socket, err := controlSocket(env)
	if err != nil {
		fmt.Fprintf(env.stderr, "Error: %v\n", err)
		return 1
	}
	client := control.NewClient(socket)
	client.SetTimeout(5 * time.Second)
	resp, err := client.Stop(reason)
	if err != nil {
		fmt.Fprintf(env.stdout, "%s No running launcher found\n", yellow("ℹ"))
		return 0
	}
	if !resp.Success {
		fmt.Fprintf(env.stderr, "Error: %s\n", resp.Error)
		return 1
	}
	if s := resp.Status; s != nil {
		where := s.URL
		if where == "" {
			where = s.Phase
		}
		fmt.Fprintf(env.stdout, "%s Localis %s (PID %d)\n", cyan("→"), where, s.PID)
	}
	fmt.Fprintf(env.stdout, "%s Stop requested\n", green("✓"))
	return 0
}
