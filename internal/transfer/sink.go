package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/logging"
)

// Sink stores a finished download under name and returns where it ended up.
// src is positioned at the start and holds exactly size bytes.
type Sink interface {
	Put(ctx context.Context, name string, src *os.File, size int64) (string, error)
}

// NewSink builds the sink for dest. Remote sinks take their settings from cfg.
func NewSink(ctx context.Context, dest Destination, cfg *config.Config, logger *logging.Logger) (Sink, error) {
	switch dest.Kind {
	case KindLocal:
		return &LocalSink{Path: dest.Path}, nil
	case KindS3:
		return NewS3Sink(ctx, dest, cfg, logger)
	case KindAzure:
		return NewAzureSink(dest, cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidDestination, dest.Kind)
	}
}

// LocalSink writes into a directory, or to an exact file path when Path does
// not name an existing directory and has a file extension.
type LocalSink struct {
	Path string
}

// Put moves src into place. Existing files are overwritten.
func (s *LocalSink) Put(ctx context.Context, name string, src *os.File, size int64) (string, error) {
	target, err := s.Target(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	// same filesystem: a rename is enough
	if err := os.Rename(src.Name(), target); err == nil {
		return target, nil
	}

	if err := copyFile(ctx, src, target); err != nil {
		return "", err
	}
	return target, nil
}

// Target returns the file Put would write for name.
func (s *LocalSink) Target(name string) (string, error) {
	path := s.Path
	if path == "" {
		path = "."
	}
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(path, name), nil
	case err == nil:
		return path, nil
	case !errors.Is(err, os.ErrNotExist):
		return "", fmt.Errorf("failed to inspect output path: %w", err)
	}

	if strings.HasSuffix(path, string(os.PathSeparator)) || strings.HasSuffix(path, "/") || filepath.Ext(path) == "" {
		return filepath.Join(path, name), nil
	}
	return path, nil
}

func copyFile(ctx context.Context, src *os.File, target string) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind download: %w", err)
	}
	tmp := target + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: src}); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", target, err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
