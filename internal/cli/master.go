package cli

import (
	"github.com/spf13/cobra"
)

func newMasterCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	master := &cobra.Command{
		Use:   "master",
		Short: "Manage the host master key",
	}

	var value string
	set := &cobra.Command{
		Use:   "set",
		Short: "Replace the host master key, generating a value when none is given",
		Args:  cobra.NoArgs,
		RunE: func(command *cobra.Command, _ []string) error {
			result, err := deps.Secrets.SetMasterKey(command.Context(), value)
			if err != nil {
				return err
			}
			return writeDocument(command.OutOrStdout(), flags.Output, result)
		},
	}
	set.Flags().StringVar(&value, "value", "", "master key value (generated when omitted)")

	master.AddCommand(set)
	return master
}
