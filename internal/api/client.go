package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/sheetjobs/internal/config"
	"github.com/rescale/sheetjobs/internal/constants"
	"github.com/rescale/sheetjobs/internal/http"
	"github.com/rescale/sheetjobs/internal/logging"
	"github.com/rescale/sheetjobs/internal/models"
	"github.com/rescale/sheetjobs/internal/ratelimit"
	"github.com/rescale/sheetjobs/internal/version"
)

// retryLogger implements the retryablehttp.LeveledLogger interface on top of zerolog
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// Client talks to the processing service.
//
// SubmitFile, GetStatus and ListJobs issue exactly one request each and never
// retry; callers decide what a failure means. Only OpenDownload retries.
type Client struct {
	httpClient     *nethttp.Client
	downloadClient *retryablehttp.Client
	limiter        *ratelimit.RateLimiter
	baseURL        string
	logger         *logging.Logger
}

// NewClient creates a new API client
func NewClient(cfg *config.Config, logger *logging.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return nil, fmt.Errorf("API base URL is empty: set base_url in the config file or pass --api-url")
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	httpClient, err := http.ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
	}

	transferClient, err := http.CreateOptimizedClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to configure download client: %w", err)
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = transferClient
	retryClient.RetryMax = cfg.DownloadMaxRetries
	retryClient.RetryWaitMin = constants.DownloadRetryWaitMin
	retryClient.RetryWaitMax = constants.DownloadRetryWaitMax
	retryClient.Logger = &retryLogger{logger: logger}
	// keep the final response so its status can be classified
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	rate := cfg.MaxRequestsPerSecond
	return &Client{
		httpClient:     httpClient,
		downloadClient: retryClient,
		limiter:        ratelimit.NewRateLimiter(rate, math.Ceil(rate), logger),
		baseURL:        strings.TrimSuffix(cfg.APIBaseURL, "/"),
		logger:         logger,
	}, nil
}

// BaseURL returns the service address without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	return req, nil
}

func (c *Client) do(op string, req *nethttp.Request) (*nethttp.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	c.logger.Debug().Str("op", op).Str("method", req.Method).Str("url", req.URL.String()).Msg("API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("op", op).Str("class", http.ErrorTypeName(http.ClassifyError(err))).Msg("API call failed")
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	c.noteThrottle(op, resp)
	return resp, nil
}

// noteThrottle pauses all further requests when the service answers 429
// with a Retry-After header.
func (c *Client) noteThrottle(op string, resp *nethttp.Response) {
	if resp.StatusCode != nethttp.StatusTooManyRequests {
		return
	}
	if d := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); d > 0 {
		c.logger.Warn().Str("op", op).Dur("retry_after", d).Msg("Service is throttling requests")
		c.limiter.SetCooldown(d)
	}
}

// responseError turns a non-2xx response into an *Error, reading the
// service's {"error": "..."} body when present.
func responseError(op string, resp *nethttp.Response, kind error) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	msg := strings.TrimSpace(string(body))
	var er models.ErrorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error != "" {
		msg = er.Error
	}

	return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg, Kind: kind}
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// SubmitFile uploads the selected file as multipart field "file" and returns
// the job id.
func (c *Client) SubmitFile(ctx context.Context, sel models.Selection) (string, error) {
	const op = "submit"

	f, err := os.Open(sel.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", sel.Path, err)
	}
	defer f.Close()

	name := sel.Name
	if name == "" {
		name = filepath.Base(sel.Path)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile(constants.UploadFormField, name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := c.newRequest(ctx, nethttp.MethodPost, "/upload/", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(op, req)
	// unblocks the writer goroutine if the request ended before the body was consumed
	pr.Close()
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return "", responseError(op, resp, ErrRejected)
	}

	var out models.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrRejected, Message: fmt.Sprintf("invalid upload response: %v", err)}
	}
	if out.JobID == "" {
		return "", &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrRejected, Message: "upload response has no job_id"}
	}

	c.logger.Debug().Str("job_id", out.JobID).Str("file", name).Msg("File submitted")
	return out.JobID, nil
}

// GetStatus fetches the current status of one job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	const op = "status"

	req, err := c.newRequest(ctx, nethttp.MethodGet, "/status/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == nethttp.StatusNotFound {
		return nil, responseError(op, resp, ErrNotFound)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, responseError(op, resp, ErrRejected)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrNetwork, Err: fmt.Errorf("failed to decode status response: %w", err)}
	}
	return &status, nil
}

// ListJobs fetches every job the service knows about.
func (c *Client) ListJobs(ctx context.Context) (models.Roster, error) {
	const op = "list jobs"

	req, err := c.newRequest(ctx, nethttp.MethodGet, "/jobs/", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return nil, responseError(op, resp, ErrRejected)
	}

	var entries map[string]models.RosterEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Kind: ErrNetwork, Err: fmt.Errorf("failed to decode jobs response: %w", err)}
	}

	roster := make(models.Roster, len(entries))
	for id, entry := range entries {
		roster[id] = models.RecordFromRosterEntry(id, entry)
	}
	return roster, nil
}

// DownloadURL returns where the result of a completed job can be fetched.
// It performs no I/O.
func (c *Client) DownloadURL(jobID string) string {
	return c.baseURL + "/download/" + url.PathEscape(jobID)
}

// Download is an open result stream. The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	FileName string // from Content-Disposition, empty when absent
	Size     int64  // -1 when unknown
}

// OpenDownload starts streaming a completed job's result file. Transient
// failures (connection errors, 5xx) are retried with backoff.
func (c *Client) OpenDownload(ctx context.Context, jobID string) (*Download, error) {
	const op = "download"

	req, err := retryablehttp.NewRequestWithContext(ctx, nethttp.MethodGet, c.DownloadURL(jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: ErrNetwork, Err: err}
	}
	c.noteThrottle(op, resp)

	switch {
	case resp.StatusCode == nethttp.StatusNotFound:
		defer resp.Body.Close()
		return nil, responseError(op, resp, ErrNotFound)
	case resp.StatusCode == nethttp.StatusBadRequest:
		defer resp.Body.Close()
		return nil, responseError(op, resp, ErrNotReady)
	case !isSuccess(resp.StatusCode):
		defer resp.Body.Close()
		return nil, responseError(op, resp, ErrRejected)
	}

	size := int64(-1)
	if v := resp.Header.Get("Content-Length"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			size = n
		}
	}

	return &Download{
		Body:     resp.Body,
		FileName: attachmentName(resp.Header.Get("Content-Disposition")),
		Size:     size,
	}, nil
}

// attachmentName extracts a safe base file name from a Content-Disposition header.
func attachmentName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := filepath.Base(filepath.Clean("/" + params["filename"]))
	if name == "/" || name == "." {
		return ""
	}
	return name
}
