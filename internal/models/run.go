package models

import "time"

// RunStatus represents the outcome of one console execution.
type RunStatus string

const (
	RunStatusOK          RunStatus = "ok"
	RunStatusError       RunStatus = "error"
	RunStatusInterrupted RunStatus = "interrupted"
	RunStatusFailed      RunStatus = "failed" // the execution service itself failed
)

// Run represents one execution of the console buffer against the remote
// execution service.
type Run struct {
	ID             string
	Code           string
	Stdout         string
	Stderr         string
	Result         string // repr of the evaluated expression, empty if none
	ExecutionError string // raw traceback text from the service, if any
	ErrorType      string // extracted error class, if the traceback parsed
	ErrorMessage   string
	Status         RunStatus
	DurationMs     int64
	CreatedAt      time.Time
}
