package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/events"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/schedule"
)

type reply struct {
	resp *models.StatusResponse
	err  error
}

// fakeTransport scripts status replies per job id. The last reply for a job
// repeats once the script is exhausted.
type fakeTransport struct {
	mu          sync.Mutex
	nextJobID   string
	submitErr   error
	submits     int
	replies     map[string][]reply
	statusCalls map[string]int

	statusGate chan struct{} // when set, status calls block until it is closed
	submitGate chan struct{} // when set, submissions block until it is closed
	entered    chan string   // receives the job id of every status call
}

func newFakeTransport(jobID string) *fakeTransport {
	return &fakeTransport{
		nextJobID:   jobID,
		replies:     make(map[string][]reply),
		statusCalls: make(map[string]int),
		entered:     make(chan string, 64),
	}
}

func (f *fakeTransport) script(jobID string, replies ...reply) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[jobID] = replies
}

func (f *fakeTransport) SubmitFile(ctx context.Context, sel models.Selection) (string, error) {
	f.mu.Lock()
	f.submits++
	gate := f.submitGate
	jobID, err := f.nextJobID, f.submitErr
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return "", err
	}
	return jobID, nil
}

func (f *fakeTransport) GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	f.mu.Lock()
	n := f.statusCalls[jobID]
	f.statusCalls[jobID] = n + 1
	script := f.replies[jobID]
	gate := f.statusGate
	f.mu.Unlock()

	f.entered <- jobID
	if gate != nil {
		<-gate
	}

	if len(script) == 0 {
		return &models.StatusResponse{Status: models.StatusProcessing}, nil
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	return script[n].resp, script[n].err
}

func (f *fakeTransport) DownloadURL(jobID string) string {
	return "/download/" + jobID
}

func (f *fakeTransport) calls(jobID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls[jobID]
}

func (f *fakeTransport) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits
}

func status(s models.Status, processed, total int) reply {
	return reply{resp: &models.StatusResponse{Status: s, Processed: processed, Total: total}}
}

func newTestController(ft *fakeTransport) (*Controller, *schedule.Manual) {
	sched := schedule.NewManual()
	c := NewController(ft, Options{
		PollInterval: time.Second,
		Scheduler:    sched,
	})
	return c, sched
}

func sheet(name string) models.Selection {
	return models.Selection{Path: "/tmp/" + name, Name: name, Size: 1024}
}

// tickAsync runs one manual tick on another goroutine and returns a channel
// closed when it finishes.
func tickAsync(sched *schedule.Manual) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		sched.Tick()
		close(done)
	}()
	return done
}

func TestSelectFileAcceptsOnlySpreadsheets(t *testing.T) {
	tests := []struct {
		name   string
		accept bool
	}{
		{"report.xlsx", true},
		{"report.XLSX", true},
		{"data.csv", true},
		{"Data.Csv", true},
		{"legacy.xls", false},
		{"notes.txt", false},
		{"csv", false},
		{"report.xlsx.zip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestController(newFakeTransport("1"))
			err := c.SelectFile(sheet(tt.name))
			v := c.View()

			if tt.accept {
				if err != nil {
					t.Fatalf("SelectFile() error = %v", err)
				}
				if !v.HasSelection || v.Selection.Name != tt.name || v.Phase != PhaseSelected {
					t.Errorf("selection not applied: %+v", v)
				}
				if v.Message != "File selected: "+tt.name {
					t.Errorf("unexpected message %q", v.Message)
				}
				return
			}

			if !errors.Is(err, ErrInvalidFileType) || !IsValidation(err) {
				t.Fatalf("expected ErrInvalidFileType, got %v", err)
			}
			if v.HasSelection {
				t.Error("rejected candidate must not become the selection")
			}
			if v.ErrorKind != ErrorValidation || v.Message != constants.MsgInvalidFileType {
				t.Errorf("expected validation display, got %+v", v)
			}
		})
	}
}

func TestRejectedSelectionKeepsPreviousSelection(t *testing.T) {
	c, _ := newTestController(newFakeTransport("1"))
	if err := c.SelectFile(sheet("data.csv")); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	if err := c.SelectFile(sheet("virus.exe")); err == nil {
		t.Fatal("expected rejection")
	}

	v := c.View()
	if !v.HasSelection || v.Selection.Name != "data.csv" {
		t.Errorf("previous selection lost: %+v", v.Selection)
	}
	if v.ErrorKind != ErrorValidation {
		t.Errorf("expected validation error display, got %q", v.ErrorKind)
	}
}

func TestStartWithoutSelectionMakesNoNetworkCall(t *testing.T) {
	ft := newFakeTransport("1")
	c, sched := newTestController(ft)

	err := c.StartProcessing(context.Background())
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}

	v := c.View()
	if v.ErrorKind != ErrorValidation || v.Message != constants.MsgSelectFirst {
		t.Errorf("expected validation display, got %+v", v)
	}
	if ft.submitCount() != 0 || sched.Registered() != 0 {
		t.Errorf("expected no submission and no poll loop, got %d submits, %d loops", ft.submitCount(), sched.Registered())
	}
}

func TestReportScenario(t *testing.T) {
	ft := newFakeTransport("42")
	ft.script("42",
		status(models.StatusProcessing, 3, 10),
		status(models.StatusCompleted, 10, 10),
	)
	c, sched := newTestController(ft)

	if err := c.SelectFile(sheet("report.xlsx")); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	if err := c.StartProcessing(context.Background()); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}

	v := c.View()
	if v.Phase != PhaseProcessing || v.Job == nil || v.Job.JobID != "42" {
		t.Fatalf("expected processing job 42, got %+v", v)
	}
	if v.Job.FileName != "report.xlsx" || v.Job.Status != models.StatusProcessing {
		t.Errorf("fresh job should be processing with the selected name, got %+v", v.Job)
	}
	if got := sched.Intervals(); len(got) != 1 || got[0] != time.Second {
		t.Fatalf("expected one poll loop at 1s, got %v", got)
	}

	sched.Tick()
	v = c.View()
	if v.Progress != 30 {
		t.Errorf("expected 30%%, got %v", v.Progress)
	}
	if !strings.Contains(v.Message, "3") || !strings.Contains(v.Message, "10") {
		t.Errorf("message should mention 3 and 10, got %q", v.Message)
	}

	sched.Tick()
	v = c.View()
	if v.Phase != PhaseCompleted {
		t.Fatalf("expected completed, got %s", v.Phase)
	}
	if v.DownloadURL != "/download/42" {
		t.Errorf("expected /download/42, got %q", v.DownloadURL)
	}
	if v.Message != constants.MsgComplete || v.HasError() {
		t.Errorf("expected success display, got %+v", v)
	}
	if sched.Active() != 0 || c.Polling() {
		t.Error("poll loop should stop on completion")
	}

	sched.Tick()
	if calls := ft.calls("42"); calls != 2 {
		t.Errorf("expected no status request after completion, got %d calls", calls)
	}
}

func TestSubmissionFailureKeepsSelectionForRetry(t *testing.T) {
	ft := newFakeTransport("7")
	ft.submitErr = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")
	c, sched := newTestController(ft)

	if err := c.SelectFile(sheet("data.csv")); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}

	err := c.StartProcessing(context.Background())
	var subErr *SubmissionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubmissionError, got %v", err)
	}

	v := c.View()
	if v.ErrorKind != ErrorSubmission {
		t.Errorf("expected submission error display, got %q", v.ErrorKind)
	}
	if !strings.HasPrefix(v.Message, constants.MsgSubmissionPrefix) || !strings.Contains(v.Message, "connection refused") {
		t.Errorf("unexpected message %q", v.Message)
	}
	if !v.HasSelection || v.Selection.Name != "data.csv" || v.Phase != PhaseSelected {
		t.Errorf("selection must survive a failed submission: %+v", v)
	}
	if sched.Registered() != 0 {
		t.Error("no poll loop may start after a failed submission")
	}

	ft.mu.Lock()
	ft.submitErr = nil
	ft.mu.Unlock()

	if err := c.StartProcessing(context.Background()); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	v = c.View()
	if v.Phase != PhaseProcessing || v.HasError() || v.Job.JobID != "7" {
		t.Errorf("retry should start processing cleanly, got %+v", v)
	}
	if ft.submitCount() != 2 {
		t.Errorf("expected 2 submissions, got %d", ft.submitCount())
	}
}

type messageError struct{ msg string }

func (e *messageError) Error() string       { return "upload: request rejected (HTTP 400): " + e.msg }
func (e *messageError) UserMessage() string { return e.msg }

func TestSubmissionErrorUsesServiceMessage(t *testing.T) {
	ft := newFakeTransport("7")
	ft.submitErr = &messageError{msg: "Unsupported file type"}
	c, _ := newTestController(ft)
	_ = c.SelectFile(sheet("data.csv"))

	_ = c.StartProcessing(context.Background())
	if got := c.View().Message; got != "Error processing file: Unsupported file type" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestResetDiscardsDelayedStatusResponse(t *testing.T) {
	ft := newFakeTransport("42")
	ft.script("42", status(models.StatusCompleted, 10, 10))
	c, sched := newTestController(ft)

	_ = c.SelectFile(sheet("report.xlsx"))
	if err := c.StartProcessing(context.Background()); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}

	gate := make(chan struct{})
	ft.mu.Lock()
	ft.statusGate = gate
	ft.mu.Unlock()

	done := tickAsync(sched)
	<-ft.entered

	c.Reset()
	close(gate)
	<-done

	v := c.View()
	if v.Phase != PhaseIdle || v.Job != nil || v.DownloadURL != "" || v.HasSelection {
		t.Errorf("late response leaked into reset state: %+v", v)
	}
	if sched.Active() != 0 {
		t.Error("reset must cancel the poll loop")
	}
}

func TestNewSessionDiscardsPreviousLoop(t *testing.T) {
	ft := newFakeTransport("1")
	ft.script("1", status(models.StatusFailed, 0, 0))
	ft.script("2", status(models.StatusProcessing, 1, 4))
	c, sched := newTestController(ft)

	_ = c.SelectFile(sheet("first.csv"))
	if err := c.StartProcessing(context.Background()); err != nil {
		t.Fatalf("StartProcessing() error = %v", err)
	}

	gate := make(chan struct{})
	ft.mu.Lock()
	ft.statusGate = gate
	ft.mu.Unlock()

	done := tickAsync(sched)
	if id := <-ft.entered; id != "1" {
		t.Fatalf("expected poll for job 1, got %s", id)
	}

	ft.mu.Lock()
	ft.nextJobID = "2"
	ft.statusGate = nil
	ft.mu.Unlock()

	if err := c.StartProcessing(context.Background()); err != nil {
		t.Fatalf("second StartProcessing() error = %v", err)
	}
	if sched.Active() != 1 {
		t.Fatalf("expected exactly one live poll loop, got %d", sched.Active())
	}

	close(gate)
	<-done

	v := c.View()
	if v.Phase != PhaseProcessing || v.Job.JobID != "2" || v.HasError() {
		t.Fatalf("first loop's failure leaked into the new session: %+v", v)
	}

	sched.Tick()
	v = c.View()
	if v.Progress != 25 || v.Job.JobID != "2" {
		t.Errorf("expected job 2 at 25%%, got %+v", v)
	}
	if ft.calls("1") != 1 {
		t.Errorf("cancelled loop issued %d status requests, want 1", ft.calls("1"))
	}
}

func TestResetDuringUploadDiscardsResult(t *testing.T) {
	ft := newFakeTransport("9")
	gate := make(chan struct{})
	ft.submitGate = gate
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("data.csv"))

	errCh := make(chan error, 1)
	go func() { errCh <- c.StartProcessing(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for c.View().Phase != PhaseUploading && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	c.Reset()
	close(gate)

	if err := <-errCh; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if v := c.View(); v.Phase != PhaseIdle || v.Job != nil {
		t.Errorf("upload result leaked into reset state: %+v", v)
	}
	if sched.Registered() != 0 {
		t.Error("no poll loop may start for a superseded upload")
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	ft := newFakeTransport("5")
	reported := 12.0
	ft.script("5",
		status(models.StatusProcessing, 0, 0),
		status(models.StatusProcessing, 2, 10),
		status(models.StatusProcessing, 5, 10),
		// total grows: the ratio drops to 30% but the display must not
		status(models.StatusProcessing, 6, 20),
		reply{resp: &models.StatusResponse{Status: models.StatusProcessing, Processed: 7, Total: 20, ProgressPercentage: &reported}},
		status(models.StatusProcessing, 15, 20),
		status(models.StatusPending, 15, 20),
		status(models.StatusProcessing, 20, 20),
	)
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("big.xlsx"))
	_ = c.StartProcessing(context.Background())

	last := -1.0
	var seen []float64
	for i := 0; i < 8; i++ {
		sched.Tick()
		p := c.View().Progress
		seen = append(seen, p)
		if p < last {
			t.Fatalf("progress decreased: %v", seen)
		}
		last = p
	}
	if last != 100 {
		t.Errorf("expected 100%% at the end, got %v (%v)", last, seen)
	}
	if c.View().Phase != PhaseProcessing {
		t.Error("100% without a completed status is still processing")
	}
}

func TestJobFailureShowsDetail(t *testing.T) {
	tests := []struct {
		name        string
		detail      string
		wantMessage string
	}{
		{"with detail", "Missing ASIN column", "Processing failed: Missing ASIN column"},
		{"without detail", "", constants.MsgJobFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft := newFakeTransport("3")
			ft.script("3", reply{resp: &models.StatusResponse{Status: models.StatusFailed, Error: tt.detail}})
			c, sched := newTestController(ft)
			_ = c.SelectFile(sheet("data.csv"))
			_ = c.StartProcessing(context.Background())

			sched.Tick()
			v := c.View()
			if v.Phase != PhaseFailed || v.ErrorKind != ErrorJobFailure {
				t.Fatalf("expected job failure, got %+v", v)
			}
			if v.ErrorDetail != tt.detail || v.Message != tt.wantMessage {
				t.Errorf("got detail %q message %q", v.ErrorDetail, v.Message)
			}
			var jobErr *JobFailedError
			if !errors.As(v.Err, &jobErr) || jobErr.JobID != "3" {
				t.Errorf("expected *JobFailedError, got %v", v.Err)
			}

			sched.Tick()
			if ft.calls("3") != 1 {
				t.Errorf("polling continued after failure: %d calls", ft.calls("3"))
			}
		})
	}
}

func TestPollingTransportErrorFailsFast(t *testing.T) {
	ft := newFakeTransport("8")
	cause := errors.New("connection reset by peer")
	ft.script("8",
		status(models.StatusProcessing, 1, 10),
		reply{err: cause},
		status(models.StatusProcessing, 2, 10),
	)
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("data.csv"))
	_ = c.StartProcessing(context.Background())

	sched.Tick()
	sched.Tick()

	v := c.View()
	if v.Phase != PhaseFailed || v.ErrorKind != ErrorPollingTransport {
		t.Fatalf("expected polling transport failure, got %+v", v)
	}
	if v.Message != constants.MsgLostConnection {
		t.Errorf("unexpected message %q", v.Message)
	}
	if !errors.Is(v.Err, ErrLostConnection) || !errors.Is(v.Err, cause) {
		t.Errorf("error should wrap ErrLostConnection and the cause, got %v", v.Err)
	}
	if v.Progress != 10 {
		t.Errorf("progress should freeze at 10%%, got %v", v.Progress)
	}

	sched.Tick()
	if ft.calls("8") != 2 {
		t.Errorf("no retry after a failed status check, got %d calls", ft.calls("8"))
	}
	if !v.HasSelection {
		t.Error("selection should remain after a lost connection")
	}
}

func TestUnknownStatusKeepsPolling(t *testing.T) {
	ft := newFakeTransport("4")
	ft.script("4", status("queued", 0, 0))
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("data.csv"))
	_ = c.StartProcessing(context.Background())

	sched.Tick()
	sched.Tick()
	v := c.View()
	if v.Phase != PhaseProcessing || v.Message != constants.MsgProcessing {
		t.Errorf("unknown status should be treated as running, got %+v", v)
	}
	if ft.calls("4") != 2 || sched.Active() != 1 {
		t.Errorf("expected polling to continue, calls=%d active=%d", ft.calls("4"), sched.Active())
	}
}

func TestSelectingNewFileCancelsSession(t *testing.T) {
	ft := newFakeTransport("6")
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("one.csv"))
	_ = c.StartProcessing(context.Background())

	// an invalid pick only changes the error display
	_ = c.SelectFile(sheet("two.pdf"))
	if sched.Active() != 1 || c.View().Selection.Name != "one.csv" {
		t.Fatal("rejected selection must not cancel the running session")
	}

	if err := c.SelectFile(sheet("two.csv")); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	v := c.View()
	if sched.Active() != 0 || v.Job != nil || v.Progress != 0 || v.Phase != PhaseSelected {
		t.Errorf("new selection should clear the session, got %+v", v)
	}
}

func TestWait(t *testing.T) {
	ft := newFakeTransport("11")
	ft.script("11", status(models.StatusProcessing, 1, 2), status(models.StatusCompleted, 2, 2))
	c, sched := newTestController(ft)
	_ = c.SelectFile(sheet("data.csv"))
	_ = c.StartProcessing(context.Background())

	go func() {
		sched.Tick()
		sched.Tick()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if v.Phase != PhaseCompleted {
		t.Errorf("expected completed, got %s", v.Phase)
	}

	_ = c.StartProcessing(context.Background())
	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, err := c.Wait(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestControllerPublishesEvents(t *testing.T) {
	bus := events.NewEventBus(16)
	defer bus.Close()
	ch := bus.Subscribe(events.EventSessionChanged)

	ft := newFakeTransport("12")
	c := NewController(ft, Options{Scheduler: schedule.NewManual(), Bus: bus})
	_ = c.SelectFile(sheet("data.csv"))
	_ = c.StartProcessing(context.Background())

	var phases []string
	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			phases = append(phases, ev.(*events.SessionEvent).Phase)
		case <-time.After(time.Second):
			t.Fatalf("timed out, got %v", phases)
		}
	}

	want := []string{"selected", "uploading", "processing"}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, phases)
		}
	}
}

func TestDefaultOptions(t *testing.T) {
	c := NewController(newFakeTransport("1"), Options{})
	if c.interval != constants.DefaultStatusPollInterval {
		t.Errorf("expected default interval, got %v", c.interval)
	}
	if _, ok := c.sched.(*schedule.Ticker); !ok {
		t.Errorf("expected real ticker by default, got %T", c.sched)
	}
	if v := c.View(); v.Phase != PhaseIdle || v.HasSelection {
		t.Errorf("new controller should be idle, got %+v", v)
	}
}
