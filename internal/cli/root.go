package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/crmarques/funcvault/faults"
)

type globalFlags struct {
	ContextPath string
	Output      string
}

func NewRootCommand(deps Dependencies) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "funcvault",
		Short: "Manage function hosting secrets",
		RunE: func(command *cobra.Command, _ []string) error {
			return command.Help()
		},
		Args: cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return validateOutputFormat(flags.Output)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.ContextPath, "context", "c", "", "path to the context file")
	root.PersistentFlags().StringVarP(&flags.Output, "output", "o", "json", "output format (json or yaml)")

	root.AddCommand(
		newHostCommand(deps, &flags),
		newFunctionCommand(deps, &flags),
		newSecretCommand(deps, &flags),
		newMasterCommand(deps, &flags),
		newVersionCommand(),
	)
	return root
}

func validateOutputFormat(format string) error {
	switch format {
	case "json", "yaml":
		return nil
	default:
		return faults.NewTypedError(faults.ValidationError, fmt.Sprintf("unsupported output format %q", format), nil)
	}
}

func writeDocument(w io.Writer, format string, document any) error {
	switch format {
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(document); err != nil {
			return faults.NewTypedError(faults.InternalError, "failed to render yaml output", err)
		}
		return encoder.Close()
	default:
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(document); err != nil {
			return faults.NewTypedError(faults.InternalError, "failed to render json output", err)
		}
		return nil
	}
}
