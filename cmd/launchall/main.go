// launchall - Start a set of programs in the background and wait for them
//
// Usage:
//
//	launchall                          Launch the programs in the launch file
//	launchall -c launch.toml           Use a specific launch file
//	launchall --print-config           Show the effective configuration
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"
	flag "github.com/spf13/pflag"

	"github.com/mbrock/launchall/internal/config"
	"github.com/mbrock/launchall/internal/dirs"
	"github.com/mbrock/launchall/internal/executor"
	"github.com/mbrock/launchall/internal/launch"
	"github.com/mbrock/launchall/internal/logging"
	systemdproc "github.com/mbrock/launchall/internal/platform/systemd/process"
)

// Global flags
var (
	configFlag      string
	workdirFlag     string
	backendFlag     string
	journalFlag     bool
	logLevelFlag    string
	printConfigFlag bool
)

// registerFlags binds the global flags to fs.
func registerFlags(fs *flag.FlagSet) {
	fs.StringVarP(&configFlag, "config", "c", "", "Launch file (overrides LAUNCHALL_CONFIG)")
	fs.StringVarP(&workdirFlag, "workdir", "C", "", "Working directory for all programs (overrides the launch file)")
	fs.StringVar(&backendFlag, "backend", "", "Backend: exec, systemd (overrides the launch file)")
	fs.BoolVar(&journalFlag, "journal", false, "Mirror status lines to the systemd journal")
	fs.StringVar(&logLevelFlag, "log-level", "info", "Log level: debug, info, warn, error")
	fs.BoolVar(&printConfigFlag, "print-config", false, "Print the effective launch file and exit")
}

func main() {
	registerFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `launchall - Start programs in the background and wait for them

Usage:
  launchall [flags]

The launch file is read from --config, $LAUNCHALL_CONFIG or
%s.

Flags:
`, dirs.ConfigDir()+"/"+dirs.ConfigFileName)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q\n", flag.Arg(0))
		flag.Usage()
		os.Exit(2)
	}

	os.Exit(run(context.Background(), flag.CommandLine, os.Stdout, os.Stderr))
}

// run launches everything, waits, and returns the process exit status.
// Errors are reported on stderr.
func run(ctx context.Context, fs *flag.FlagSet, stdout, stderr io.Writer) int {
	fail := func(err error) int {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return fail(err)
	}

	if printConfigFlag {
		data, err := cfg.Marshal()
		if err != nil {
			return fail(err)
		}
		if _, err := stdout.Write(data); err != nil {
			return fail(fmt.Errorf("writing config: %w", err))
		}
		return 0
	}

	level, err := logging.ParseLevel(logLevelFlag)
	if err != nil {
		return fail(err)
	}

	runID := uuid.NewString()[:8]
	logger := logging.New(logging.Options{
		Out:     stdout,
		Level:   level,
		Journal: cfg.Journal,
	}).With("run", runID)

	exec, closeExec, err := openExecutor(ctx, cfg.Backend, runID)
	if err != nil {
		return fail(err)
	}
	defer closeExec()

	l := launch.New(launch.Config{
		WorkDir:  cfg.WorkDir,
		Specs:    cfg.Specs(),
		Executor: exec,
		Logger:   logger,
	})

	launchErr := l.LaunchAll(ctx)
	if launchErr == nil {
		notifyReady(logger, len(l.Handles()))
	}

	l.AwaitAll()

	if launchErr != nil {
		return fail(launchErr)
	}
	return 0
}

// loadConfig reads the launch file and applies the flags set in fs.
func loadConfig(fs *flag.FlagSet) (*config.Config, error) {
	path, explicit := dirs.ConfigFile()
	if configFlag != "" {
		path, explicit = configFlag, true
	}

	cfg, err := config.Load(path, explicit)
	if err != nil {
		return nil, err
	}

	if fs.Changed("workdir") {
		cfg.WorkDir = workdirFlag
	}
	if fs.Changed("backend") {
		cfg.Backend = config.Backend(backendFlag)
	}
	if fs.Changed("journal") {
		cfg.Journal = journalFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openExecutor(ctx context.Context, backend config.Backend, runID string) (executor.Executor, func(), error) {
	switch backend {
	case config.BackendSystemd:
		conn, err := systemdproc.ConnectUserSystemd(ctx)
		if err != nil {
			return nil, nil, err
		}
		e := systemdproc.NewExecutor(conn, runID)
		return e, func() { e.Close() }, nil
	default:
		return executor.Default(), func() {}, nil
	}
}

// notifyReady tells systemd that launching finished. It is a no-op when
// launchall is not running as a notify service.
func notifyReady(logger *slog.Logger, n int) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady+"\nSTATUS="+fmt.Sprintf("%d programs launched", n))
	if err != nil {
		logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		logger.Debug("notified systemd")
	}
}
