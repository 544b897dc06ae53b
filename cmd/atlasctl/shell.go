package main

import (
	"bufio"
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newShellCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Drive the workflow interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			cancel := app.Workflow.Subscribe(statusPrinter(cmd.OutOrStdout()))
			defer cancel()

			printlnFn(fmt.Sprintf("connected to %s, type help for commands", app.Config.ServiceURL))
			runREPL(cmd.Context(), &shellSession{wf: app.Workflow}, bufio.NewScanner(cmd.InOrStdin()))
			return nil
		},
	}
}
