package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/connector/internal/config"
	"github.com/mesh-intelligence/connector/internal/paths"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and check the backend",
		Long:  "Create the configuration directory with a default config.yaml when missing,\nthen open the configured backend to verify it is reachable.",
		Args:  cobra.NoArgs,
		RunE:  a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, args []string) error {
	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	path, created, err := config.WriteDefault(dir)
	if err != nil {
		return sysError(err)
	}
	if created {
		a.logger.Info("config written", "path", path)
	}

	cfg, b, err := a.openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "connector initialized")
	fmt.Fprintln(out, "  config: ", path)
	fmt.Fprintln(out, "  backend:", cfg.Backend)
	return nil
}
