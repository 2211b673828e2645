package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// packaged is set to "true" for the bundled desktop build:
//
//	go build -ldflags "-X main.packaged=true" ./cmd/localis
var packaged = "false"

var rootCmd = &cobra.Command{
	Use:   "localis",
	Short: "Localis - start the local Localis application",
	Long: `Localis prepares and starts the local Localis application.

On every start it:
- resolves configuration (environment, then localis_runtime_config.json, then defaults)
- locates the Python runtime and git
- clones the application on first run, or fast-forwards it afterwards
- starts the server, waits until it accepts connections and opens the browser

Press Ctrl+C to stop the server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags, err := launchFlagsFrom(cmd)
		if err != nil {
			return err
		}
		if code := runLaunch(cmd.Context(), defaultEnvironment(), flags); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

// exitCode ends the process with the given status without printing.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}
	var code exitCode
	if errors.As(err, &code) {
		os.Exit(int(code))
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
