package constants

import (
	"time"
)

// Transfer orchestration limits
const (
	// MaxConcurrentTransfers - maximum number of tasks allowed in the running
	// state at once. A ninth start is rejected, not queued.
	MaxConcurrentTransfers = 8

	// TransferWorkers - parallel workers for a Rec -> WebDAV folder task
	TransferWorkers = 2

	// DownloadWorkers - parallel workers for a Rec -> local disk folder task
	DownloadWorkers = 4

	// UploadWorkers - parallel workers for a local disk -> Rec folder task
	UploadWorkers = 4

	// SingleFileWorkers - worker count when the task root is a single file
	SingleFileWorkers = 1
)

// Worker retry policy
const (
	// WorkerMaxRetries - attempts per worker task before the task is failed
	WorkerMaxRetries = 5

	// WorkerRetryBaseDelay - delay before the second attempt; doubles per
	// attempt up to WorkerRetryMaxDelay
	WorkerRetryBaseDelay = 1 * time.Second

	// WorkerRetryMaxDelay - cap on the exponential retry delay
	WorkerRetryMaxDelay = 5 * time.Second
)

// Progress reporting cadence
const (
	// MeterSampleInterval - byte-counter sampling period of the rate meter.
	// The instantaneous rate is the per-sample byte delta scaled to one second.
	MeterSampleInterval = 200 * time.Millisecond

	// MeterWindowSize - moving-average window over instantaneous rates
	MeterWindowSize = 5

	// AggregateMinInterval - minimum interval between aggregated progress
	// callbacks from an executor
	AggregateMinInterval = 100 * time.Millisecond

	// PausePollInterval - polling period for workers waiting on a pause
	// signal between tasks and between retries
	PausePollInterval = 100 * time.Millisecond

	// SpeedHistorySize - bounded history of raw rates kept per task
	SpeedHistorySize = 10

	// SpeedSmoothingAlpha - exponential moving average weight for new samples
	SpeedSmoothingAlpha = 0.3

	// ProgressScale - progress is reported in thousandths (0..1000) to avoid
	// floating-point drift in clients
	ProgressScale = 1000
)

// REST surface behavior
const (
	// StatusAutoGCDelay - delay between reporting a terminal status on
	// GET /transfer/{id}/status and evicting the task. Eviction must never
	// happen before the response is written.
	StatusAutoGCDelay = 100 * time.Millisecond
)

// Rec API client
const (
	// APIRequestTimeout - per-request timeout for Rec API calls. Byte streams
	// are not subject to this; they have no total-transfer timeout.
	APIRequestTimeout = 30 * time.Second

	// APIRetryMax - transport-level retries inside the Rec API client
	APIRetryMax = 3

	// APIRetryWaitMin - minimum transport retry backoff
	APIRetryWaitMin = 1 * time.Second

	// APIRetryWaitMax - maximum transport retry backoff
	APIRetryWaitMax = 10 * time.Second

	// MaxPaginationPages - maximum listing pages fetched per folder before
	// stopping (prevents infinite loops on a misbehaving server)
	MaxPaginationPages = 1000
)

// HTTP stream client (ranged reads, chunk PUTs)
const (
	// HTTPDialTimeout - timeout for establishing a connection
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for the dialer
	HTTPDialKeepAlive = 30 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for the TLS handshake
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPIdleConnTimeout - how long to keep idle connections open
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPResponseHeaderTimeout - time to wait for response headers on a
	// ranged GET; the body itself is unbounded
	HTTPResponseHeaderTimeout = 30 * time.Second
)

// Event system
const (
	// EventBusDefaultBuffer - default buffer size for event channels.
	// Slow subscribers drop events rather than blocking the manager.
	EventBusDefaultBuffer = 1000
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond the probed
	// source size when validating a disk destination (temporary files, etc.)
	DiskSpaceBufferPercent = 0.05
)
