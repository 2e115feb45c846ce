package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rescale/sheetjobs/internal/api"
	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/progress"
	"github.com/rescale/sheetjobs/internal/transfer"
)

var (
	errAborted = errors.New("download aborted")
	errSkipped = errors.New("existing file kept")
)

// downloadResult fetches jobID's result into output, or the configured
// default destination when output is empty.
func downloadResult(ctx context.Context, cfg *config.Config, client *api.Client, jobID, sourceName, output string, force bool) error {
	if output == "" {
		output = cfg.DownloadOutput
	}
	dest, err := transfer.ParseDestination(output)
	if err != nil {
		return err
	}

	sink, err := transfer.NewSink(ctx, dest, cfg, GetLogger())
	if err != nil {
		return err
	}
	if local, ok := sink.(*transfer.LocalSink); ok && !force && progress.IsTerminal(os.Stdin) {
		sink = &confirmingSink{
			LocalSink: local,
			in:        bufio.NewReader(os.Stdin),
			out:       os.Stderr,
		}
	}

	d := transfer.NewDownloader(client, progress.ForOutput, GetLogger())
	res, err := d.Fetch(ctx, jobID, sourceName, sink)
	switch {
	case errors.Is(err, errSkipped):
		fmt.Println("Skipped: existing file kept")
		return nil
	case api.IsNotReady(err):
		return fmt.Errorf("job %s has not completed yet", jobID)
	case api.IsNotFound(err):
		return fmt.Errorf("job %s not found", jobID)
	case err != nil:
		return err
	}

	fmt.Printf("✓ Saved %s to %s (%s)\n", res.Name, res.Location, models.FormatSize(res.Bytes))
	return nil
}

// confirmingSink asks before replacing an existing local file.
type confirmingSink struct {
	*transfer.LocalSink
	in  *bufio.Reader
	out io.Writer
}

func (s *confirmingSink) Put(ctx context.Context, name string, src *os.File, size int64) (string, error) {
	target, err := s.Target(name)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(target); err == nil {
		action, err := promptOverwrite(s.in, s.out, target)
		if err != nil {
			return "", err
		}
		switch action {
		case OverwriteSkip:
			return "", errSkipped
		case OverwriteAbort:
			return "", errAborted
		}
	}
	return s.LocalSink.Put(ctx, name, src, size)
}
