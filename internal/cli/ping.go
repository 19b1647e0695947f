package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/connector/pkg/backends"
)

func (a *app) newPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check connectivity to the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if err := backends.Ping(cmd.Context(), b); err != nil {
				return sysError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok", cfg.Backend)
			return nil
		},
	}
}
