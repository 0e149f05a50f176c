package main

import (
	"fmt"
	"io"

	"shelfkit/internal/browser"
	"shelfkit/internal/config"
	"shelfkit/internal/logging"
	"shelfkit/internal/verify"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the library page's empty and populated states in Chrome",
	Long: `Launches Chrome (or connects to --debugger-url), mocks the library
endpoint and checks two states of the page:

  1. empty:     the endpoint returns [] and "The shelves are bare..." shows
  2. populated: the endpoint returns one book and "Recommended Reading"
                plus the book title show

Screenshots are written to the artifacts directory. Failed checks are
reported on stdout; with --strict they also make the command exit 1.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func init() {
	f := verifyCmd.Flags()
	f.String("target-url", "", "Page to load (default from config)")
	f.String("endpoint", "", "URL glob of the library endpoint to mock")
	f.Duration("wait-timeout", 0, "How long to wait for each text marker")
	f.String("artifacts-dir", "", "Directory for screenshots")
	f.Bool("strict", false, "Exit non-zero when a check fails")
	f.Bool("headless", true, "Run Chrome headless")
	f.Bool("stealth", false, "Apply stealth patches to the page")
	f.String("debugger-url", "", "Connect to an existing Chrome instead of launching one")
}

// applyVerifyFlags copies explicitly set flags over the loaded config.
func applyVerifyFlags(cmd *cobra.Command, c *config.Config) {
	f := cmd.Flags()
	if f.Changed("target-url") {
		c.Verify.TargetURL, _ = f.GetString("target-url")
	}
	if f.Changed("endpoint") {
		c.Verify.EndpointPattern, _ = f.GetString("endpoint")
	}
	if f.Changed("wait-timeout") {
		d, _ := f.GetDuration("wait-timeout")
		c.Verify.WaitTimeout = d.String()
	}
	if f.Changed("artifacts-dir") {
		c.Verify.ArtifactsDir, _ = f.GetString("artifacts-dir")
	}
	if f.Changed("strict") {
		c.Verify.Strict, _ = f.GetBool("strict")
	}
	if f.Changed("headless") {
		c.Browser.Headless, _ = f.GetBool("headless")
	}
	if f.Changed("stealth") {
		c.Browser.Stealth, _ = f.GetBool("stealth")
	}
	if f.Changed("debugger-url") {
		c.Browser.DebuggerURL, _ = f.GetString("debugger-url")
	}
}

func browserConfig(c *config.Config) browser.Config {
	return browser.Config{
		DebuggerURL:         c.Browser.DebuggerURL,
		Bin:                 c.Browser.Bin,
		Headless:            c.Browser.Headless,
		Stealth:             c.Browser.Stealth,
		ViewportWidth:       c.Browser.ViewportWidth,
		ViewportHeight:      c.Browser.ViewportHeight,
		NavigationTimeoutMs: int(c.GetNavigationTimeout().Milliseconds()),
	}
}

func verifyOptions(c *config.Config) verify.Options {
	return verify.Options{
		TargetURL:       c.Verify.TargetURL,
		EndpointPattern: c.Verify.EndpointPattern,
		WaitTimeout:     c.GetWaitTimeout(),
		ArtifactsDir:    c.Verify.ArtifactsDir,
		Strict:          c.Verify.Strict,
	}
}

// newRunner wires a verifier to a fresh browser session, honouring the
// per-category log toggles.
func newRunner(opts verify.Options, out io.Writer) *verify.Runner {
	sm := browser.NewSessionManager(browserConfig(cfg), logging.Filtered(logger, cfg.Logging, logging.CategoryBrowser))
	return verify.NewRunner(opts, verify.BrowserSession(sm), out, logging.Filtered(logger, cfg.Logging, logging.CategoryVerify))
}

func runVerify(cmd *cobra.Command, args []string) error {
	applyVerifyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := commandContext(timeout)
	defer cancel()

	runner := newRunner(verifyOptions(cfg), cmd.OutOrStdout())

	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if runner.Options().Strict {
		return rep.Err()
	}
	return nil
}
