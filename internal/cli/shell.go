package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rescale/sheetjobs/internal/lifecycle"
	"github.com/rescale/sheetjobs/internal/presenter"
)

const shellHelp = `Commands:
  select <path>          choose a CSV or XLSX file
  start                  upload the selected file and follow processing
  reset                  clear the selection and stop following the job
  view upload|jobs       switch between the upload view and the jobs table
  refresh                reload the jobs table now
  download [destination] save the completed result (local path, s3://, Azure URL)
  show                   redraw the current view
  help                   show this help
  quit                   leave the shell`

// newShellCmd creates the 'shell' command.
func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive upload and jobs views",
		Long: `Start an interactive session.

The upload view follows the file you submit; the jobs view lists every job
and refreshes itself while it is open.

` + shellHelp,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			p := presenter.New(a.session, a.roster, a.client.DownloadURL, out, GetLogger())
			go p.Run(ctx, a.bus)

			download := func(ctx context.Context, dest string) error {
				v := a.session.View()
				if v.Phase != lifecycle.PhaseCompleted || v.Job == nil {
					return errors.New("no completed job to download")
				}
				return downloadResult(ctx, a.cfg, a.client, v.Job.JobID, v.Selection.Name, dest, false)
			}

			fmt.Fprintf(out, "Connected to %s. Type 'help' for commands.\n", a.client.BaseURL())
			return newShell(p, download, out).run(ctx, os.Stdin)
		},
	}
}

type shell struct {
	p        *presenter.Presenter
	download func(ctx context.Context, dest string) error
	out      io.Writer
}

func newShell(p *presenter.Presenter, download func(ctx context.Context, dest string) error, out io.Writer) *shell {
	return &shell{p: p, download: download, out: out}
}

// run reads commands until quit, EOF or ctx ends.
func (s *shell) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.p.Render()
	for {
		fmt.Fprint(s.out, "> ")
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return nil
			}
			if s.exec(ctx, line) {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the shell should exit
func (s *shell) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		fmt.Fprintln(s.out, shellHelp)
	case "select":
		if len(args) == 0 {
			fmt.Fprintln(s.out, "Usage: select <path>")
			return false
		}
		// paths may contain spaces
		path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		if err := s.p.SelectFile(path); err != nil && !lifecycle.IsValidation(err) {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	case "start":
		// failures are shown by the upload view
		_ = s.p.Start(ctx)
	case "reset":
		s.p.Reset()
	case "view":
		if len(args) != 1 {
			fmt.Fprintln(s.out, "Usage: view upload|jobs")
			return false
		}
		name, err := presenter.ParseViewName(args[0])
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			return false
		}
		s.p.SwitchView(ctx, name)
	case "refresh":
		if err := s.p.Refresh(ctx); err != nil {
			fmt.Fprintf(s.out, "Refresh failed: %v\n", err)
		}
	case "download":
		dest := ""
		if len(args) > 0 {
			dest = args[0]
		}
		if err := s.download(ctx, dest); err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	case "show":
		s.p.Render()
	default:
		fmt.Fprintf(s.out, "Unknown command %q. Type 'help' for commands.\n", cmd)
	}
	return false
}
