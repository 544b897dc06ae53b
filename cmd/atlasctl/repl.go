package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/atlas-slicer/internal/core/domain"
	"github.com/kirillkom/atlas-slicer/internal/core/ports"
)

// printlnFn is a test seam for user-facing output.
var printlnFn = fmt.Println

const replHelp = "Available commands: select <path> [type], retry, process, download, status, wait, reset, help, quit"

type shellSession struct {
	wf ports.WorkflowController
}

func (s *shellSession) selectFile(ctx context.Context, args []string) error {
	var file *domain.CandidateFile
	if len(args) > 0 {
		mediaType := ""
		if len(args) > 1 {
			mediaType = args[1]
		}
		loaded, err := loadCandidate(args[0], mediaType)
		if err != nil {
			return err
		}
		file = loaded
	}
	return s.wf.Select(ctx, file)
}

func (s *shellSession) status() string {
	snap := s.wf.Snapshot()
	rows := [][]string{
		{"state", snap.State.String()},
		{"status", snap.Status},
		{"file", orDash(snap.FileName)},
		{"preview", orDash(snap.Preview.URL)},
		{"asset", orDash(string(snap.AssetID))},
		{"download_url", orDash(snap.DownloadURL)},
	}
	return renderTable([]string{"Field", "Value"}, rows)
}

// runREPL reads one command per line and dispatches it to the session until
// EOF, quit or exit. Remote calls run in the background, so the prompt comes
// back right away; "wait" blocks until they settle.
func runREPL(ctx context.Context, s *shellSession, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("atlas> %s > ", s.wf.Snapshot().State))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			printlnFn(replHelp)
		case "select":
			err = s.selectFile(ctx, args)
		case "retry":
			err = s.wf.RetryUpload(ctx)
		case "process":
			err = s.wf.RequestProcess(ctx)
		case "download":
			err = s.wf.Download(ctx)
		case "status":
			printlnFn(s.status())
		case "wait":
			s.wf.Wait()
		case "reset":
			err = s.wf.Reset(ctx)
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}
		if err != nil {
			reportError(err)
		}
	}
}

// reportError prints failures the workflow has not already put in its status line.
func reportError(err error) {
	if domain.IsKind(err, domain.ErrValidation) || domain.IsKind(err, domain.ErrInvalidState) {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	printlnFn("error:", err)
}
