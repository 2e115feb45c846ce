package transfer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rescale/sheetjobs/internal/api"
	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/diskspace"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/progress"
)

// Opener starts the download of a job's result.
type Opener interface {
	OpenDownload(ctx context.Context, jobID string) (*api.Download, error)
}

// Result describes a stored result file.
type Result struct {
	JobID    string
	Name     string
	Location string
	Bytes    int64
	Duration time.Duration
}

// Downloader streams results into a temporary file and hands it to a sink.
type Downloader struct {
	opener   Opener
	logger   *logging.Logger
	reporter func() progress.Reporter
	tempDir  string
}

// NewDownloader creates a Downloader. reporter may be nil for silent downloads.
func NewDownloader(opener Opener, reporter func() progress.Reporter, logger *logging.Logger) *Downloader {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if reporter == nil {
		reporter = func() progress.Reporter { return progress.NewNoOpProgress() }
	}
	return &Downloader{
		opener:   opener,
		logger:   logger.Child("component", "download"),
		reporter: reporter,
	}
}

// Fetch downloads jobID's result and stores it with sink. sourceName is the
// uploaded file's name, used for the local name when the service sends none.
func (d *Downloader) Fetch(ctx context.Context, jobID, sourceName string, sink Sink) (*Result, error) {
	start := time.Now()

	dl, err := d.opener.OpenDownload(ctx, jobID)
	if err != nil {
		return nil, err
	}
	defer dl.Body.Close()

	name := ResultName(dl.FileName, sourceName, jobID)
	if err := d.checkSpace(dl.Size, name, sink); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(d.tempDir, "sheetjobs-*.download")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	rep := d.reporter()
	rep.Start(dl.Size, "Downloading "+name)
	n, err := io.Copy(tmp, progress.NewProgressReader(&ctxReader{ctx: ctx, r: dl.Body}, rep))
	if err != nil {
		rep.Error(err)
		return nil, fmt.Errorf("failed to download result for job %s: %w", jobID, err)
	}
	rep.Finish()

	if dl.Size >= 0 && n != dl.Size {
		return nil, fmt.Errorf("failed to download result for job %s: got %d of %d bytes", jobID, n, dl.Size)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind download: %w", err)
	}

	location, err := sink.Put(ctx, name, tmp, n)
	if err != nil {
		return nil, err
	}

	res := &Result{
		JobID:    jobID,
		Name:     name,
		Location: location,
		Bytes:    n,
		Duration: time.Since(start),
	}
	d.logger.Info().
		Str("job_id", jobID).
		Str("location", location).
		Str("size", models.FormatSize(n)).
		Dur("duration", res.Duration).
		Msg("Result downloaded")
	return res, nil
}

// checkSpace rejects a download of known size that cannot fit in the temp
// directory or, for local sinks, the output directory.
func (d *Downloader) checkSpace(size int64, name string, sink Sink) error {
	if size <= 0 {
		return nil
	}
	dir := d.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := diskspace.CheckAvailableSpace(filepath.Join(dir, name), size, constants.DiskSpaceSafetyMargin); err != nil {
		return err
	}
	if local, ok := sink.(*LocalSink); ok {
		target, err := local.Target(name)
		if err != nil {
			return err
		}
		return diskspace.CheckAvailableSpace(target, size, constants.DiskSpaceSafetyMargin)
	}
	return nil
}

// ResultName picks the stored file name: the server's attachment name, then
// "processed-" plus the uploaded file's name, then the job id.
func ResultName(attachment, sourceName, jobID string) string {
	if attachment != "" {
		return filepath.Base(attachment)
	}
	if sourceName != "" {
		return constants.ProcessedFilePrefix + filepath.Base(sourceName)
	}
	return constants.ProcessedFilePrefix + jobID
}
