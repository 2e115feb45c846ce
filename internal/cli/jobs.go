package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rescale/sheetjobs/internal/api"
	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/lifecycle"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/presenter"
	"github.com/rescale/sheetjobs/internal/progress"
	"github.com/rescale/sheetjobs/internal/roster"
)

// newSubmitCmd creates the 'submit' command.
func newSubmitCmd() *cobra.Command {
	var (
		download bool
		output   string
		noWait   bool
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "submit <file>",
		Short: "Upload a CSV or XLSX file and follow its processing",
		Long: `Upload a spreadsheet to the processing service and show its progress
until the job completes or fails.

Examples:
  sheetjobs submit report.xlsx
  sheetjobs submit data.csv --download --output ./results
  sheetjobs submit data.csv --download --output s3://my-bucket/results`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			sel, err := models.NewSelection(args[0])
			if err != nil {
				return err
			}
			if err := a.session.SelectFile(sel); err != nil {
				return err
			}

			if err := a.session.StartProcessing(ctx); err != nil {
				return err
			}
			v := a.session.View()
			fmt.Printf("Job %s submitted for %s (%s)\n", v.Job.JobID, sel.Name, models.FormatSize(sel.Size))
			if noWait {
				return nil
			}

			v, err = followSession(ctx, a.session, progress.NewSessionBar())
			if err != nil {
				return err
			}
			if v.Phase != lifecycle.PhaseCompleted {
				return v.Err
			}

			if download {
				return downloadResult(ctx, a.cfg, a.client, v.Job.JobID, sel.Name, output, force)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&download, "download", "d", false, "Download the result when processing completes")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Result destination: local path, s3://bucket/prefix or Azure container URL with SAS")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return as soon as the file is accepted")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing local files without asking")

	return cmd
}

// sessionView is what followSession needs from the lifecycle controller.
type sessionView interface {
	View() lifecycle.View
	Changed() <-chan struct{}
}

// viewDrawer is satisfied by *progress.SessionBar.
type viewDrawer interface {
	Update(v lifecycle.View)
}

// followSession draws every change of the session until it is no longer
// uploading or processing.
func followSession(ctx context.Context, s sessionView, bar viewDrawer) (lifecycle.View, error) {
	for {
		changed := s.Changed()
		v := s.View()
		bar.Update(v)
		if !v.Phase.Busy() {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return v, ctx.Err()
		case <-changed:
		}
	}
}

// newStatusCmd creates the 'status' command.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := getAPIClient()
			if err != nil {
				return err
			}

			jobID := args[0]
			resp, err := client.GetStatus(GetContext(), jobID)
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("job %s not found", jobID)
				}
				return fmt.Errorf("failed to get status: %w", err)
			}

			printStatus(models.RecordFromStatus(jobID, resp), client.DownloadURL(jobID))
			return nil
		},
	}
}

func printStatus(rec models.JobRecord, downloadURL string) {
	fmt.Printf("Job ID:   %s\n", rec.JobID)
	if rec.FileName != "" {
		fmt.Printf("File:     %s\n", rec.FileName)
	}
	if !rec.StartTime.IsZero() {
		fmt.Printf("Started:  %s\n", rec.StartTime.Local().Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Status:   %s\n", rec.Status)
	fmt.Printf("Progress: %s\n", presenter.FormatProgress(rec))
	if rec.ElapsedFormatted != "" {
		fmt.Printf("Elapsed:  %s\n", rec.ElapsedFormatted)
	}
	if rec.ErrorDetail != "" {
		fmt.Printf("Error:    %s\n", rec.ErrorDetail)
	}
	if rec.Status == models.StatusCompleted {
		fmt.Printf("Download: %s\n", downloadURL)
	}
}

// newJobsCmd creates the 'jobs' command group.
func newJobsCmd() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "List and watch all jobs known to the service",
	}

	jobsCmd.AddCommand(newJobsListCmd())
	jobsCmd.AddCommand(newJobsWatchCmd())

	return jobsCmd
}

func newJobsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all jobs as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, client, err := getAPIClient()
			if err != nil {
				return err
			}

			rc := roster.NewController(client, roster.Options{Logger: GetLogger()})
			if err := rc.Refresh(GetContext()); err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			presenter.RenderJobs(os.Stdout, rc.Jobs(), client.DownloadURL, rc.LastRefreshed())
			return nil
		},
	}
}

func newJobsWatchCmd() *cobra.Command {
	var table bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow all jobs live until Ctrl+C",
		Long: `Refresh the job list periodically and show one progress bar per job.

Failed refreshes are ignored and the last list stays on screen. Use --table
to reprint the full table on every refresh instead of bars.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()

			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			updates := a.bus.Subscribe(events.EventRosterUpdated)

			var ui *progress.RosterUI
			if !table {
				ui = progress.NewRosterUI()
				defer ui.Close()
			}

			a.roster.Activate(ctx)
			defer a.roster.Deactivate()

			GetLogger().Debug().Dur("interval", a.cfg.RosterRefreshInterval).Msg("Watching jobs")

			for {
				select {
				case <-ctx.Done():
					return nil
				case _, ok := <-updates:
					if !ok {
						return nil
					}
					if ui != nil {
						ui.Sync(a.roster.Jobs())
						continue
					}
					presenter.RenderJobs(os.Stdout, a.roster.Jobs(), a.client.DownloadURL, a.roster.LastRefreshed())
				}
			}
		},
	}

	cmd.Flags().BoolVar(&table, "table", false, "Reprint the table on every refresh instead of drawing bars")

	return cmd
}

// newDownloadCmd creates the 'download' command.
func newDownloadCmd() *cobra.Command {
	var (
		output string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download the result of a completed job",
		Long: `Download the processed file of a completed job.

Destinations:
  ./results                                                  local directory
  ./results/out.xlsx                                         local file
  s3://bucket/prefix                                         S3 bucket (see [s3] in config)
  https://acct.blob.core.windows.net/container/prefix?<sas>  Azure Blob container`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			cfg, client, err := getAPIClient()
			if err != nil {
				return err
			}

			// the uploaded file's name is only needed when the server sends none
			var source string
			if resp, err := client.GetStatus(ctx, args[0]); err == nil {
				source = resp.FileName
			}

			return downloadResult(ctx, cfg, client, args[0], source, output, force)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Result destination (default from config, then current directory)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing local files without asking")

	return cmd
}
