package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Create the signing keypair if needed and print its fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			fp, err := wire.Identity.Fingerprint(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
}
