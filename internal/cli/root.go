// Package cli implements the connector command-line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/connector/internal/config"
	"github.com/mesh-intelligence/connector/internal/paths"
	"github.com/mesh-intelligence/connector/pkg/backends"
	"github.com/mesh-intelligence/connector/pkg/connector"
	"github.com/mesh-intelligence/connector/pkg/types"
)

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// Version is set at build time.
var Version = "dev"

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	verbose   bool
}

// exitError carries the exit code of a failed command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error { return &exitError{code: exitUserError, err: err} }
func sysError(err error) error  { return &exitError{code: exitSysError, err: err} }

// app is the state shared by the subcommands of one invocation.
type app struct {
	flags  rootFlags
	logger *slog.Logger
}

// NewRootCmd creates the top-level "connector" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "connector",
		Short: "Storage-agnostic entity connector",
		Long:  "connector manages the configuration and storage units of the entity\nconnector on SQLite, Postgres and MongoDB.",
		// Do not print usage on errors returned by subcommands.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = newLogger(cmd.ErrOrStderr(), a.flags.verbose)
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: $"+paths.EnvConfigDir+" or the platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "directory for relative sqlite databases (default: current directory)")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "log statements at debug level")

	root.AddCommand(newVersionCmd())
	root.AddCommand(a.newInitCmd())
	root.AddCommand(a.newPingCmd())
	root.AddCommand(a.newDropCmd())

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitUserError
	}
	return exitSuccess
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// loadConfig resolves the configuration directory and loads config.yaml.
func (a *app) loadConfig() (string, types.Config, error) {
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return "", types.Config{}, sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := config.Load(dir, a.flags.dataDir)
	if err != nil {
		return dir, types.Config{}, userError(err)
	}
	return dir, cfg, nil
}

// openBackend loads the configuration and connects its backend.
func (a *app) openBackend(ctx context.Context) (types.Config, connector.Backend, error) {
	_, cfg, err := a.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	a.logger.Debug("opening backend", "backend", cfg.Backend)
	b, err := backends.OpenBackend(ctx, cfg, backends.WithLogger(a.logger))
	if err != nil {
		return cfg, nil, sysError(err)
	}
	return cfg, b, nil
}
