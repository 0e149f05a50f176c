package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"shelfkit/internal/epub"
	"shelfkit/internal/library"
	"shelfkit/internal/logging"
	"shelfkit/internal/stubapp"
	"shelfkit/internal/verify"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stand-in library app",
	Long: `Serves a small library page and /api/v2/library on stub.addr
(default 127.0.0.1:5173) until interrupted. Useful as a verify target when
the real app is not running.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var smokeCmd = &cobra.Command{
	Use:   "smoke",
	Short: "Write the fixture, start the stub app and verify against it",
	Long: `End-to-end run: writes the EPUB fixture into the artifacts directory and
checks its layout, starts the stub app on a free port, runs verify against
it and exits 1 if anything failed.`,
	Args: cobra.NoArgs,
	RunE: runSmoke,
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config)")
	serveCmd.Flags().Bool("seeded", false, "Serve the sample book instead of an empty shelf")
	serveCmd.Flags().String("shelf", "", "JSON file of books to serve, reloaded on change")

	smokeCmd.Flags().String("artifacts-dir", "", "Directory for screenshots and the fixture")
	smokeCmd.Flags().Bool("headless", true, "Run Chrome headless")
	smokeCmd.Flags().String("debugger-url", "", "Connect to an existing Chrome instead of launching one")
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Stub.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}
	seeded := cfg.Stub.Seeded
	if cmd.Flags().Changed("seeded") {
		seeded, _ = cmd.Flags().GetBool("seeded")
	}

	shelfFile := cfg.Stub.ShelfFile
	if cmd.Flags().Changed("shelf") {
		shelfFile, _ = cmd.Flags().GetString("shelf")
	}

	shelf := library.EmptyShelf()
	if seeded {
		shelf = library.SampleShelf()
	}
	stub := stubapp.New(shelf, logging.Filtered(logger, cfg.Logging, logging.CategoryStub))

	// serve runs until interrupted, not bounded by --timeout
	ctx, stop := commandContext(0)
	defer stop()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Serving library on http://%s\n", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return stub.Serve(gctx, ln)
	})
	if shelfFile != "" {
		g.Go(func() error {
			return stub.WatchShelf(gctx, shelfFile)
		})
	}
	return g.Wait()
}

func runSmoke(cmd *cobra.Command, args []string) error {
	applyVerifyFlags(cmd, cfg)
	out := cmd.OutOrStdout()
	log := logging.With(logger, logging.CategoryBoot)

	fixture := filepath.Join(cfg.Verify.ArtifactsDir, filepath.Base(cfg.Fixture.Output))
	if err := os.MkdirAll(cfg.Verify.ArtifactsDir, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}
	if err := epub.Create(fixture); err != nil {
		return err
	}
	sum, err := epub.Inspect(fixture)
	if err != nil {
		return err
	}
	if err := sum.Validate(); err != nil {
		return err
	}
	fmt.Fprintf(out, "Created %s (%d entries)\n", fixture, len(sum.Entries))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	stub := stubapp.New(library.EmptyShelf(), logging.Filtered(logger, cfg.Logging, logging.CategoryStub))

	opts := verifyOptions(cfg)
	opts.TargetURL = "http://" + ln.Addr().String()

	ctx, cancel := commandContext(timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)

	g.Go(func() error {
		return stub.Serve(serveCtx, ln)
	})

	var rep *verify.Report
	g.Go(func() error {
		defer stopServe()
		r, err := newRunner(opts, out).Run(gctx)
		rep = r
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	// Every library request should have been answered by the browser mock.
	if hits := stub.Hits(); hits > 0 {
		log.Warn("library endpoint reached the stub app", zap.Int("hits", hits))
		return fmt.Errorf("%w: %d library request(s) bypassed the mock", verify.ErrVerificationFailed, hits)
	}
	for _, shot := range rep.Screenshots() {
		if _, err := os.Stat(shot); err != nil {
			return fmt.Errorf("%w: missing screenshot %s", verify.ErrVerificationFailed, shot)
		}
	}
	if err := rep.Err(); err != nil {
		return err
	}

	fmt.Fprintln(out, color.GreenString("Smoke run %s passed", rep.RunID))
	return nil
}
