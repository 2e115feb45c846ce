package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/lifecycle"
)

// SessionBar follows one processing session. On a terminal it draws a
// percentage bar labelled with the current message; elsewhere it prints each
// new message on its own line.
type SessionBar struct {
	out      io.Writer
	terminal bool
	bar      *progressbar.ProgressBar
	lastMsg  string
	done     bool
}

// NewSessionBar creates a session bar on stderr.
func NewSessionBar() *SessionBar {
	terminal := IsTerminal(os.Stderr)
	if terminal {
		prepareTerminal(os.Stderr)
	}
	return newSessionBar(os.Stderr, terminal)
}

func newSessionBar(out io.Writer, terminal bool) *SessionBar {
	return &SessionBar{out: out, terminal: terminal}
}

// Update draws v. Calls after the session finished are ignored.
func (s *SessionBar) Update(v lifecycle.View) {
	if s.done {
		return
	}

	if !s.terminal {
		if v.Message != "" && v.Message != s.lastMsg {
			fmt.Fprintf(s.out, "%s (%.0f%%)\n", v.Message, v.Progress)
		}
		s.lastMsg = v.Message
		s.finishIfTerminal(v)
		return
	}

	if s.bar == nil {
		out := s.out
		s.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetWidth(constants.RosterBarWidth),
			progressbar.OptionThrottle(constants.ProgressUpdateInterval),
			progressbar.OptionShowCount(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(out, "\n")
			}),
		)
	}
	if v.Message != s.lastMsg {
		s.bar.Describe(v.Message)
		s.lastMsg = v.Message
	}
	if v.Phase != lifecycle.PhaseCompleted {
		_ = s.bar.Set(int(v.Progress))
	}
	s.finishIfTerminal(v)
}

func (s *SessionBar) finishIfTerminal(v lifecycle.View) {
	switch {
	case v.Phase == lifecycle.PhaseCompleted:
		s.done = true
		if s.bar != nil {
			_ = s.bar.Finish()
		}
		if v.DownloadURL != "" {
			fmt.Fprintf(s.out, "✓ Download: %s\n", v.DownloadURL)
		}
	case v.HasError() && !v.Phase.Busy():
		s.done = true
		if s.bar != nil {
			_ = s.bar.Exit()
			fmt.Fprintf(s.out, "\n✗ %s\n", v.Message)
		}
	}
}

// Done reports whether a terminal view was drawn.
func (s *SessionBar) Done() bool {
	return s.done
}
