// Package cli is the command line of inkquest. Without a subcommand it
// runs the engine with its scheduler and chat front-end.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.3.0"

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "inkquest",
		Short:         "Daily writing practice with levels, streaks and achievements",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate("{{.Name}} v{{.Version}}\n")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file read before the environment")

	serve := newServeCmd(&envFile)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newProfileCmd(&envFile),
		newTasksCmd(&envFile),
		newGenerateCmd(&envFile),
		newImportCmd(&envFile),
		newStatusCmd(&envFile),
	)
	return root
}

// Execute runs the command line and exits non-zero on failure
func Execute() {
	if err := run(NewRootCmd(), os.Args[1:], os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(root *cobra.Command, args []string, stderr io.Writer) error {
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, bad.Render(iconError+" "+err.Error()))
		return err
	}
	return nil
}
