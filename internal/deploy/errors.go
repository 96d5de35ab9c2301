package deploy

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is; the wrapped chain still carries the
// provider or os error for errors.As.
var (
	ErrVersionConflict        = errors.New("version conflict")
	ErrVersionNotFound        = errors.New("version not found")
	ErrOriginNotFound         = errors.New("origin not found")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrCdnUnavailable         = errors.New("cdn unavailable")
	ErrConcurrentModification = errors.New("distribution modified concurrently")
	ErrLocalIO                = errors.New("local io error")
	ErrNoContent              = errors.New("no content")
	ErrInvalidSpec            = errors.New("invalid spec")
	ErrUploadFailed           = errors.New("upload failed")
)

// Workflow names the top level operation.
type Workflow string

const (
	WorkflowDeploy   Workflow = "deploy"
	WorkflowRollback Workflow = "rollback"
)

// Stage names one step of a workflow.
type Stage string

const (
	StageComputePrefix Stage = "compute_prefix"
	StageGuard         Stage = "guard"
	StageResolve       Stage = "resolve"
	StageUpload        Stage = "upload"
	StageSwitchCDN     Stage = "switch_cdn"
	StageRecord        Stage = "record_release"
)

// StageError is the terminal failure of a workflow.
type StageError struct {
	Workflow Workflow
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Workflow, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage recorded in err, or "" when err did not come
// from an Orchestrator.
func FailedStage(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
