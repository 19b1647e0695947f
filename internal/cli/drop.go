package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *app) newDropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <storage>",
		Short: "Drop a storage unit and its data",
		Long:  "Drop a table or collection by storage name, for example cms_article or\nsupport_ticket__acme for a tenant's storage.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, b, err := a.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.DropStorage(cmd.Context(), args[0]); err != nil {
				return sysError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "dropped", args[0])
			return nil
		},
	}
}
