package commands

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mongowebapi/mongo-web-api/pkg/portalloc"
)

func newPortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "port",
		Short: "Print a free TCP port on the loopback interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := portalloc.GetFreePort(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "Failed to find a free port")
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), port)
			return err
		},
	}
}
