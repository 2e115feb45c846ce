package constants

import (
	"time"
)

// Application identity
const (
	// AppName is used for the binary name, config directory and log file prefix
	AppName = "sheetjobs"

	// DefaultAPIBaseURL - processing backend address used when nothing is configured
	DefaultAPIBaseURL = "http://localhost:8000"
)

// Upload rules
var (
	// AcceptedExtensions - file extensions the processing backend accepts (compared lowercased)
	AcceptedExtensions = []string{".csv", ".xlsx"}
)

// UploadFormField - multipart form field name carrying the spreadsheet
const UploadFormField = "file"

// Polling
const (
	// DefaultStatusPollInterval - interval between status checks for the active job (1.5 seconds)
	DefaultStatusPollInterval = 1500 * time.Millisecond

	// MinStatusPollInterval - lower bound accepted from configuration (250ms)
	MinStatusPollInterval = 250 * time.Millisecond

	// MaxStatusPollInterval - upper bound accepted from configuration (60 seconds)
	MaxStatusPollInterval = 60 * time.Second

	// DefaultRosterRefreshInterval - interval between job list refreshes while the jobs view is open (5 seconds)
	DefaultRosterRefreshInterval = 5 * time.Second

	// MinRosterRefreshInterval - lower bound accepted from configuration (1 second)
	MinRosterRefreshInterval = 1 * time.Second

	// MaxRosterRefreshInterval - upper bound accepted from configuration (1 hour)
	MaxRosterRefreshInterval = 1 * time.Hour
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (256)
	// A session emits at most one event per poll, so this absorbs minutes of a slow renderer
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size (4096)
	EventBusMaxBuffer = 4096
)

// Download
const (
	// DefaultDownloadRetries - retry attempts for the result download (not the core API calls)
	DefaultDownloadRetries = 3

	// DownloadRetryWaitMin - minimum wait between download retries
	DownloadRetryWaitMin = 1 * time.Second

	// DownloadRetryWaitMax - maximum wait between download retries
	DownloadRetryWaitMax = 30 * time.Second

	// ProcessedFilePrefix - local file name prefix when the server sends no attachment name
	ProcessedFilePrefix = "processed-"

	// DiskSpaceSafetyMargin - free space required relative to the result size (10% buffer)
	DiskSpaceSafetyMargin = 1.1
)

// UI Updates
const (
	// ProgressUpdateInterval - refresh rate of terminal progress bars (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// RosterBarWidth - width of each per-job bar in the jobs watch view
	RosterBarWidth = 40
)

// HTTP Client Timeouts
const (
	// HTTPRequestTimeout - default overall timeout for a single API request (300 seconds)
	// Uploads of large spreadsheets go through the same client
	HTTPRequestTimeout = 300 * time.Second

	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (30 seconds)
	HTTPTLSHandshakeTimeout = 30 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ProxyWarmupTimeout - timeout for the optional proxy warmup request (15 seconds)
	ProxyWarmupTimeout = 15 * time.Second

	// DefaultProxyPort - port used when a proxy host is configured without one
	DefaultProxyPort = 8080
)

// Display messages shown by the lifecycle controller
const (
	MsgSelectFirst      = "Please select a file first"
	MsgInvalidFileType  = "Please select a CSV or XLSX file"
	MsgUploading        = "Uploading your file..."
	MsgProcessing       = "Processing your file..."
	MsgComplete         = "Processing complete! Your file is ready for download."
	MsgJobFailed        = "Processing failed"
	MsgLostConnection   = "Lost connection to server while checking job status"
	MsgSubmissionPrefix = "Error processing file"
	MsgNoJobs           = "No jobs found. Upload a file to start processing."
)
