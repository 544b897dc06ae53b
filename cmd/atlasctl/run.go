package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
	"github.com/spf13/cobra"
)

var errStepFailed = errors.New("workflow step failed")

func newRunCommand(ctx *commandContext) *cobra.Command {
	var mediaType string

	cmd := &cobra.Command{
		Use:   "run <file.png>",
		Short: "Upload, process and download one image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := loadCandidate(args[0], mediaType)
			if err != nil {
				return err
			}
			app, err := ctx.openApp(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			cancel := app.Workflow.Subscribe(statusPrinter(cmd.OutOrStdout()))
			defer cancel()

			return runWorkflow(cmd.Context(), app.Workflow, file)
		},
	}
	cmd.Flags().StringVar(&mediaType, "type", "", "Declared media type (defaults to the extension's type)")
	return cmd
}

// runWorkflow drives one full cycle and fails on the first step that does not
// reach its expected state.
func runWorkflow(ctx context.Context, wf ports.WorkflowController, file *domain.CandidateFile) error {
	if err := wf.Select(ctx, file); err != nil {
		return err
	}
	wf.Wait()
	if err := expectState(wf, domain.StateUploaded); err != nil {
		return err
	}

	if err := wf.RequestProcess(ctx); err != nil {
		return err
	}
	wf.Wait()
	if err := expectState(wf, domain.StateReady); err != nil {
		return err
	}

	return wf.Download(ctx)
}

func expectState(wf ports.WorkflowController, want domain.WorkflowState) error {
	snap := wf.Snapshot()
	if snap.State != want {
		return fmt.Errorf("%w: %s", errStepFailed, snap.Status)
	}
	return nil
}

// statusPrinter writes one line per distinct state/status pair.
func statusPrinter(w io.Writer) func(domain.Snapshot) {
	var lastState domain.WorkflowState
	var lastStatus string
	return func(snap domain.Snapshot) {
		if snap.State == lastState && snap.Status == lastStatus {
			return
		}
		lastState, lastStatus = snap.State, snap.Status
		fmt.Fprintf(w, "[%s] %s\n", snap.State, snap.Status)
	}
}
