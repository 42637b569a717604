package cli

import (
	"github.com/spf13/cobra"
)

func newHostCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	host := &cobra.Command{
		Use:   "host",
		Short: "Inspect host-level secrets",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Print the decrypted host secret set",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			info, err := deps.Secrets.GetHostSecrets(command.Context())
			if err != nil {
				return err
			}
			return writeDocument(command.OutOrStdout(), flags.Output, info)
		},
	}

	host.AddCommand(get)
	return host
}
