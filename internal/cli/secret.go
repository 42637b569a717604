package cli

import (
	"github.com/spf13/cobra"

	"github.com/crmarques/funcvault/faults"
	"github.com/crmarques/funcvault/secrets"
)

type secretTarget struct {
	Function  string
	HostScope string
}

func (t secretTarget) resolve() (string, secrets.SecretsType, error) {
	switch {
	case t.Function != "" && t.HostScope != "":
		return "", "", faults.NewTypedError(faults.ValidationError, "--function and --host-scope are mutually exclusive", nil)
	case t.Function != "":
		return t.Function, secrets.FunctionSecretsType, nil
	case t.HostScope != "":
		return t.HostScope, secrets.HostSecretsType, nil
	default:
		return "", "", faults.NewTypedError(faults.ValidationError, "one of --function or --host-scope is required", nil)
	}
}

func bindTargetFlags(command *cobra.Command, target *secretTarget) {
	command.Flags().StringVar(&target.Function, "function", "", "target function name")
	command.Flags().StringVar(&target.HostScope, "host-scope", "", "target host key list (functionkeys or systemkeys)")
}

func newSecretCommand(deps Dependencies, flags *globalFlags) *cobra.Command {
	secret := &cobra.Command{
		Use:   "secret",
		Short: "Create, replace, and delete named secrets",
	}

	var setTarget secretTarget
	var setValue string
	set := &cobra.Command{
		Use:   "set <name>",
		Short: "Create or replace a named secret, generating a value when none is given",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			scope, secretsType, err := setTarget.resolve()
			if err != nil {
				return err
			}
			result, err := deps.Secrets.AddOrUpdateFunctionSecret(command.Context(), args[0], setValue, scope, secretsType)
			if err != nil {
				return err
			}
			return writeDocument(command.OutOrStdout(), flags.Output, result)
		},
	}
	bindTargetFlags(set, &setTarget)
	set.Flags().StringVar(&setValue, "value", "", "secret value (generated when omitted)")

	var deleteTarget secretTarget
	deleteCmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a named secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(command *cobra.Command, args []string) error {
			scope, secretsType, err := deleteTarget.resolve()
			if err != nil {
				return err
			}
			deleted, err := deps.Secrets.DeleteSecret(command.Context(), args[0], scope, secretsType)
			if err != nil {
				return err
			}
			if !deleted {
				return faults.NewTypedError(faults.NotFoundError, "secret not found", nil)
			}
			return writeDocument(command.OutOrStdout(), flags.Output, map[string]string{"deleted": args[0]})
		},
	}
	bindTargetFlags(deleteCmd, &deleteTarget)

	secret.AddCommand(set, deleteCmd)
	return secret
}
