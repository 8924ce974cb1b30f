package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/zhufucdev/ledoxide/pkg/bill"
	"github.com/zhufucdev/ledoxide/pkg/models"
)

// Status names a lifecycle phase.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
)

// ErrResultMissing marks a finished record restored without a recorded
// outcome. Such records are treated as failed, never as succeeded.
var ErrResultMissing = errors.New("task: finished record has no recorded result")

// Descriptor is the caller-supplied input for one task. The scheduler owns
// it after submission; the executing unit reads it, nobody writes it.
type Descriptor struct {
	// Image is the raw bill photo.
	Image []byte
	// VisionSampling tunes generation for the image-reading stage.
	VisionSampling models.Sampling
	// LanguageSampling tunes generation for the text stages.
	LanguageSampling models.Sampling
}

// Record tracks the identity and state of one submitted task. The id is
// assigned at creation and never changes. State transitions are monotonic,
// pending to running to finished; finished is terminal.
type Record struct {
	id string

	mu      sync.RWMutex
	status  Status
	result  *bill.Bill
	failure string
}

// NewRecord creates a pending record with a fresh id.
func NewRecord() *Record {
	return &Record{id: uuid.NewString(), status: StatusPending}
}

// ID returns the record's immutable identifier.
func (r *Record) ID() string { return r.id }

// Status returns the current lifecycle phase.
func (r *Record) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Result returns the successful outcome, or nil when the task has not
// finished successfully.
func (r *Record) Result() *bill.Bill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.result
}

// Failure returns the terminal error message, or "" when there is none.
func (r *Record) Failure() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.failure
}

// IsTerminal reports whether the record reached finished.
func (r *Record) IsTerminal() bool {
	return r.Status() == StatusFinished
}

// Start moves a pending record to running. It reports whether the
// transition applied; any other starting state leaves the record unchanged.
func (r *Record) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return false
	}
	r.status = StatusRunning
	return true
}

// Finish records the terminal outcome of a running record; err wins when
// both arguments are set, and a nil result with a nil err is recorded as
// ErrResultMissing. Repeat calls and calls on non-running records report
// false and change nothing.
func (r *Record) Finish(result *bill.Bill, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusRunning {
		return false
	}
	r.status = StatusFinished
	switch {
	case err != nil:
		r.failure = err.Error()
	case result == nil:
		r.failure = ErrResultMissing.Error()
	default:
		r.result = result
	}
	return true
}

// recordJSON is the serialized record shape.
type recordJSON struct {
	ID      string     `json:"id"`
	State   Status     `json:"state"`
	Success *bill.Bill `json:"success,omitempty"`
	Error   *string    `json:"error,omitempty"`
}

// MarshalJSON serializes a point-in-time snapshot of the record.
func (r *Record) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	out := recordJSON{ID: r.id, State: r.status, Success: r.result}
	if r.failure != "" {
		msg := r.failure
		out.Error = &msg
	}
	r.mu.RUnlock()
	return json.Marshal(out)
}

// UnmarshalJSON restores a record, typically from the swap log. A finished
// record carrying neither success nor error data is restored as failed
// with ErrResultMissing rather than silently succeeding.
func (r *Record) UnmarshalJSON(data []byte) error {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.ID == "" {
		return errors.New("task: record missing id")
	}
	switch in.State {
	case StatusPending, StatusRunning, StatusFinished:
	default:
		return fmt.Errorf("task: unknown state %q", in.State)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.id = in.ID
	r.status = in.State
	r.result = in.Success
	r.failure = ""
	switch {
	case in.Error != nil:
		r.failure = *in.Error
		r.result = nil
	case in.State == StatusFinished && in.Success == nil:
		r.failure = ErrResultMissing.Error()
	}
	return nil
}
