package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/localis-app/launcher/internal/locator"
	"github.com/localis-app/launcher/internal/logging"
	"github.com/localis-app/launcher/internal/pyenv"
)

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Check that the runtime can import the application's core packages",
	Long: `Locate the interpreter the launcher would use and import each module in a
fresh interpreter process. Prints SMOKE_TEST_OK and exits 0 when all imports
succeed, otherwise prints SMOKE_TEST_FAILED with the failing modules and
exits 1. Packaging pipelines run this against a freshly built bundle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		modules, _ := cmd.Flags().GetStringSlice("module")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if code := runSmoke(cmd.Context(), defaultEnvironment(), modules, timeout); code != 0 {
			return exitCode(code)
		}
		return nil
	},
}

func init() {
	smokeCmd.Flags().StringSlice("module", pyenv.DefaultSmokeModules, "Modules to import")
	smokeCmd.Flags().Duration("timeout", pyenv.DefaultImportTimeout, "Time limit for each import")
	rootCmd.AddCommand(smokeCmd)
}

func runSmoke(ctx context.Context, env environment, modules []string, timeout time.Duration) int {
	opts := env.resolverOptions()
	cfg, _ := env.resolveConfig()
	if cfg == nil || cfg.InstallRoot == "" {
		fmt.Fprintln(env.stdout, "SMOKE_TEST_FAILED: install root is not configured")
		return 1
	}

	interp, _, err := locator.New(logging.Discard()).FindInterpreter(cfg.InstallRoot, opts.BundleRoot, cfg.Packaged)
	if err != nil {
		fmt.Fprintf(env.stdout, "SMOKE_TEST_FAILED: %v\n", err)
		return 1
	}

	fmt.Fprintf(env.stdout, "Localis runtime smoke test\n")
	fmt.Fprintf(env.stdout, "Interpreter: %s\n\n", interp)

	results := pyenv.SmokeTest(ctx, interp, modules, timeout)
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(env.stdout, "  [OK] %s\n", r.Module)
		} else {
			fmt.Fprintf(env.stdout, "  [FAIL] %s\n", r.Module)
			fmt.Fprintf(env.stdout, "         Error: %s\n", r.Output)
		}
	}
	fmt.Fprintln(env.stdout)

	failed := pyenv.Failed(results)
	if len(failed) == 0 {
		fmt.Fprintln(env.stdout, "SMOKE_TEST_OK")
		return 0
	}
	fmt.Fprintln(env.stdout, "SMOKE_TEST_FAILED")
	fmt.Fprintf(env.stdout, "\nFailed to import %d package(s): %s\n\n", len(failed), strings.Join(failed, ", "))
	fmt.Fprintln(env.stdout, "Troubleshooting:")
	fmt.Fprintln(env.stdout, "  1. Verify the runtime pack was built successfully")
	fmt.Fprintln(env.stdout, "  2. Check that the runtime's site-packages is on its import path")
	fmt.Fprintln(env.stdout, "  3. Ensure all dependencies were installed during build")
	return 1
}
