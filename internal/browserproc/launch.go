package browserproc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/cdpfleet/cdpfleet/internal/transport"
)

// DefaultPort is the default CDP remote-debugging port.
const DefaultPort = 9222

// UserDataDirDefault tells LaunchBinary to use the browser's own
// default profile directory instead of creating, or being handed, an
// isolated one.
const UserDataDirDefault = "default"

// ErrStartTimeout is returned when the browser fails to expose its CDP
// endpoint before the launch deadline.
var ErrStartTimeout = errors.New("browser start timeout")

// LaunchOptions configures a launched browser process.
type LaunchOptions struct {
	Headless bool
	Port     int

	// UserDataDir selects the profile directory: empty creates a temp
	// one, UserDataDirDefault uses the browser's own default profile,
	// anything else is used as-is.
	UserDataDir string

	// SearchPaths overrides DefaultChromeSearchPaths when resolving a
	// binary via Launch. Ignored by LaunchBinary, which already has an
	// explicit path.
	SearchPaths []string

	// ExtraArgs are appended to the command line after every flag this
	// package derives from the fields above, letting a caller add
	// flags (e.g. a proxy server) without this package knowing about
	// them.
	ExtraArgs []string
}

// Process is a Chrome/Chromium instance this package started and owns.
type Process struct {
	cmd      *exec.Cmd
	addr     string
	dataDir  string
	ownsData bool
}

// baseArgs apply to every launch regardless of options.
var baseArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-background-networking",
	"--disable-sync",
	"--disable-popup-blocking",
}

// platformArgs maps runtime.GOOS to the one flag this package needs
// on that platform, looked up instead of switched on so a third
// platform is a map entry, not a new case.
var platformArgs = map[string]string{
	"darwin": "--use-mock-keychain",
	"linux":  "--password-store=basic",
}

func buildArgs(opts LaunchOptions) []string {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	args := make([]string, 0, len(baseArgs)+len(opts.ExtraArgs)+4)
	args = append(args, fmt.Sprintf("--remote-debugging-port=%d", port))
	args = append(args, baseArgs...)

	if flag, ok := platformArgs[runtime.GOOS]; ok {
		args = append(args, flag)
	}
	if opts.Headless {
		args = append(args, "--headless")
	}
	if opts.UserDataDir != "" && opts.UserDataDir != UserDataDirDefault {
		args = append(args, fmt.Sprintf("--user-data-dir=%s", opts.UserDataDir))
	}

	args = append(args, opts.ExtraArgs...)
	args = append(args, "about:blank")
	return args
}

// Launch starts a Chrome/Chromium process and blocks until its CDP
// discovery endpoint responds.
func Launch(ctx context.Context, opts LaunchOptions) (*Process, error) {
	candidates := opts.SearchPaths
	if len(candidates) == 0 {
		candidates = DefaultChromeSearchPaths
	}
	binPath, err := FindChrome(candidates)
	if err != nil {
		return nil, err
	}
	return LaunchBinary(ctx, binPath, opts)
}

// LaunchBinary is Launch with an explicit binary path, bypassing
// FindChrome.
func LaunchBinary(ctx context.Context, binPath string, opts LaunchOptions) (*Process, error) {
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}

	dataDir, ownsData, err := resolveDataDir(opts.UserDataDir)
	if err != nil {
		return nil, err
	}
	opts.UserDataDir = dataDir

	cmd := exec.Command(binPath, buildArgs(opts)...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		if ownsData && dataDir != "" {
			os.RemoveAll(dataDir)
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}

	p := &Process{
		cmd:      cmd,
		addr:     fmt.Sprintf("127.0.0.1:%d", port),
		dataDir:  dataDir,
		ownsData: ownsData,
	}

	if err := p.waitForCDP(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func resolveDataDir(requested string) (dir string, ownsData bool, err error) {
	switch requested {
	case "":
		dir, err = os.MkdirTemp("", "cdpfleet-chrome-*")
		return dir, true, err
	case UserDataDirDefault:
		return "", false, nil
	default:
		return requested, false, nil
	}
}

func (p *Process) waitForCDP(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ErrStartTimeout
		case <-ticker.C:
			if _, err := transport.Bootstrap(ctx, p.addr); err == nil {
				return nil
			}
		}
	}
}

// Addr returns the host:port the manager should dial.
func (p *Process) Addr() string { return p.addr }

// PID returns the process id of the launched browser.
func (p *Process) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Close terminates the browser process and removes any temp profile
// directory this package created.
func (p *Process) Close() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()

	if p.ownsData && p.dataDir != "" {
		os.RemoveAll(p.dataDir)
	}
	p.cmd = nil
	return nil
}
