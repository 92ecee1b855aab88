package core

import (
	"strings"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// IDs
// -----------------------------------------------------------------------------

// NewID returns a random identifier in canonical UUID form.
func NewID() string {
	return uuid.NewString()
}

// NewShortID returns a random identifier with separators stripped.
func NewShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// -----------------------------------------------------------------------------
// Task Instance Status
// -----------------------------------------------------------------------------

// InstanceStatus is the persisted state of one task instance. Transitions are
// one-directional: Submitted -> Staged/Queued -> Processing -> terminal, with
// Aborting as a transitional state between Processing and Cancelled.
type InstanceStatus string

const (
	StatusSubmitted  InstanceStatus = "Submitted"
	StatusStaged     InstanceStatus = "Staged"
	StatusQueued     InstanceStatus = "Queued"
	StatusProcessing InstanceStatus = "Processing"
	StatusCompleted  InstanceStatus = "Completed"
	StatusError      InstanceStatus = "Error"
	StatusCancelled  InstanceStatus = "Cancelled"
	StatusAborting   InstanceStatus = "Aborting"
)

func (s InstanceStatus) String() string {
	return string(s)
}

// IsTerminal reports whether s is a final status: no further transitions and
// a completion timestamp has been stamped.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is legal.
func (s InstanceStatus) CanTransition(next InstanceStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusSubmitted:
		return next == StatusStaged || next == StatusQueued || next == StatusProcessing || next == StatusCancelled
	case StatusStaged, StatusQueued:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusError || next == StatusAborting || next == StatusCancelled
	case StatusAborting:
		return next == StatusCancelled || next == StatusError
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// Task Status
// -----------------------------------------------------------------------------

// TaskStatus is the authoring lifecycle of a task definition.
type TaskStatus string

const (
	TaskStatusDevelopment TaskStatus = "Development"
	TaskStatusApproved    TaskStatus = "Approved"
)
