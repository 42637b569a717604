package main

import (
	"fmt"
	"os"

	"github.com/crmarques/funcvault/core"
	"github.com/crmarques/funcvault/internal/cli"
)

func main() {
	args := os.Args[1:]

	funcvaultContext, err := core.NewFuncvaultContext(core.BootstrapConfig{
		ContextPath: cli.ContextPathFromArgs(args),
	})
	if err != nil {
		if !isHelpInvocation(args) {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(cli.ExitCodeForError(err))
		}
		if execErr := cli.Execute(cli.Dependencies{}); execErr != nil {
			os.Exit(cli.ExitCodeForError(execErr))
		}
		return
	}

	deps := cli.Dependencies{
		Secrets: funcvaultContext.Secrets,
		Context: funcvaultContext.Context,
	}
	if err := cli.Execute(deps); err != nil {
		os.Exit(cli.ExitCodeForError(err))
	}
}

func isHelpInvocation(args []string) bool {
	if len(args) == 0 {
		return true
	}
	if args[0] == "help" || args[0] == "version" {
		return true
	}
	for _, current := range args {
		if current == "--help" || current == "-h" {
			return true
		}
	}
	return false
}
