package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/crmarques/funcvault/config"
	"github.com/crmarques/funcvault/faults"
	"github.com/crmarques/funcvault/secrets"
)

type Dependencies struct {
	Secrets secrets.Manager
	Context *config.Context
}

func Execute(deps Dependencies) error {
	root := NewRootCommand(deps)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(root.ErrOrStderr(), strings.TrimSpace(err.Error()))
		return err
	}
	return nil
}

func ExitCodeForError(err error) int {
	if err == nil {
		return 0
	}

	var typedErr *faults.TypedError
	if !errors.As(err, &typedErr) {
		return 1
	}

	switch typedErr.Category {
	case faults.ValidationError:
		return 2
	case faults.NotFoundError:
		return 3
	case faults.MalformedError:
		return 4
	case faults.ContentionError:
		return 5
	case faults.BackupQuotaError:
		return 6
	case faults.DecryptionError:
		return 7
	default:
		return 1
	}
}

// ContextPathFromArgs pre-parses the --context flag so the process can
// bootstrap before cobra takes over.
func ContextPathFromArgs(args []string) string {
	flags := pflag.NewFlagSet("bootstrap", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.SetOutput(io.Discard)

	var contextPath string
	flags.StringVarP(&contextPath, "context", "c", "", "path to the context file")
	if err := flags.Parse(args); err == nil && contextPath != "" {
		return contextPath
	}
	return os.Getenv(config.ContextFileEnvVar)
}
