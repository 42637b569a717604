package cli

import (
	"github.com/spf13/cobra"
)

func newFunctionCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	function := &cobra.Command{
		Use:   "function",
		Short: "Inspect function-level secrets",
	}

	var noMerge bool
	get := &cobra.Command{
		Use:   "get <function-name>",
		Short: "Print a function's decrypted secrets, merged with the host's shared keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			secretsMap, err := deps.Secrets.GetFunctionSecrets(command.Context(), args[0], !noMerge)
			if err != nil {
				return err
			}
			return writeDocument(command.OutOrStdout(), flags.Output, secretsMap)
		},
	}
	get.Flags().BoolVar(&noMerge, "no-merge", false, "return only the function's own secrets")

	function.AddCommand(get)
	return function
}
