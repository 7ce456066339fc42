// Package cli implements the cdpfleetctl command line tool, a thin
// front end over internal/manager, internal/tab, and internal/browserproc
// for driving a single tab from a shell or a script.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/cdpfleet/cdpfleet/internal/browserproc"
	"github.com/cdpfleet/cdpfleet/internal/config"
	"github.com/cdpfleet/cdpfleet/internal/logging"
	"github.com/cdpfleet/cdpfleet/internal/manager"
	"github.com/cdpfleet/cdpfleet/internal/tab"
)

// Version is set at build time.
var Version = "dev"

var (
	flagAddr     string
	flagLaunch   bool
	flagHeadless bool
	flagDebug    bool
	flagJSON     bool
)

var rootCmd = &cobra.Command{
	Use:           "cdpfleetctl",
	Short:         "Drive a single Chromium tab over CDP",
	Long:          "cdpfleetctl dials (or launches) a Chromium instance, opens one tab, runs one action against it, and exits.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "browser discovery address, e.g. localhost:9222 (default from CDPFLEET_BROWSER_ADDR)")
	rootCmd.PersistentFlags().BoolVar(&flagLaunch, "launch", false, "launch a local Chrome/Chromium instead of dialing an existing one")
	rootCmd.PersistentFlags().BoolVar(&flagHeadless, "headless", true, "run a launched browser headless")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable verbose debug logging")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output JSON instead of text")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// session bundles the pieces a single CLI invocation needs: a running
// Manager, an optional owned browser process, and the logger both were
// built with.
type session struct {
	mgr    *manager.Manager
	proc   *browserproc.Process
	log    *zap.Logger
	cfg    config.Config
	cancel context.CancelFunc
	done   chan struct{}
}

// openSession dials (or launches, with --launch) a browser and starts
// the Manager's run loop in the background.
func openSession(ctx context.Context) (*session, error) {
	log, err := logging.New(flagDebug)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	addr := flagAddr
	if addr == "" {
		addr = cfg.BrowserAddr
	}

	var proc *browserproc.Process
	if flagLaunch {
		launchCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		proc, err = browserproc.Launch(launchCtx, browserproc.LaunchOptions{Headless: flagHeadless, SearchPaths: cfg.ChromeSearchPaths})
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		addr = proc.Addr()
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	mgr, err := manager.Dial(dialCtx, manager.Options{
		Addr:           addr,
		MaxTabs:        cfg.MaxTabs,
		HealthInterval: cfg.HealthInterval,
		ControlTimeout: cfg.ReadTimeout,
		Log:            log,
	})
	if err != nil {
		if proc != nil {
			proc.Close()
		}
		return nil, fmt.Errorf("dial browser at %s: %w", addr, err)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := mgr.Run(runCtx); err != nil {
			log.Error("manager stopped", zap.Error(err))
		}
	}()

	return &session{mgr: mgr, proc: proc, log: log, cfg: cfg, cancel: runCancel, done: done}, nil
}

func (s *session) Close() {
	s.cancel()
	<-s.done
	if s.proc != nil {
		s.proc.Close()
	}
	_ = s.log.Sync()
}

func (s *session) newTab(opts tab.Options) (*tab.Handle, error) {
	return tab.Create(s.mgr, opts)
}

// tabOptions builds the default tab.Options for a create call that
// doesn't need extra settings, using the configured per-tab operation
// timeout as the deadline of the tab's create request.
func (s *session) tabOptions() tab.Options {
	return tab.Options{Timeout: s.cfg.OperationTimeout}
}

// isStdoutTTY reports whether stdout is attached to a terminal, used
// to decide whether JSON output is worth pretty-printing versus left
// compact for a pipeline.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func outputJSON(data any) error {
	enc := json.NewEncoder(os.Stdout)
	if isStdoutTTY() {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(data)
}

func outputSuccess(data any) error {
	if flagJSON {
		return outputJSON(map[string]any{"ok": true, "data": data})
	}
	switch v := data.(type) {
	case nil:
		fmt.Println("OK")
	case string:
		fmt.Println(v)
	default:
		fmt.Printf("%+v\n", v)
	}
	return nil
}

func outputError(err error) error {
	if flagJSON {
		_ = outputJSON(map[string]any{"ok": false, "error": err.Error()})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}
	return err
}
