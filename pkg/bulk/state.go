package bulk

import (
	"context"

	"github.com/ajitpratap0/orbit/pkg/csvbatch"
	"github.com/ajitpratap0/orbit/pkg/errors"
)

// State is the position of one batch in its ingest job lifecycle.
type State int

const (
	StatePending State = iota
	StateCreated
	StateDataUploaded
	StateClosed
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCreated:
		return "created"
	case StateDataUploaded:
		return "data_uploaded"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Stage names the remote call that leaves the state.
func (s State) Stage() string {
	switch s {
	case StatePending:
		return StageCreate
	case StateCreated:
		return StageUpload
	case StateDataUploaded:
		return StageClose
	default:
		return ""
	}
}

// Stage names used in errors, logs and spans.
const (
	StageCreate = "create"
	StageUpload = "upload"
	StageClose  = "close"
	StageAbort  = "abort"
	StageInfo   = "info"
)

// pipeline is the mutable state of one batch. It is owned by one goroutine.
type pipeline struct {
	job   *Job
	batch csvbatch.Batch
	state State
	jobID string
	info  *JobInfo
}

// advance performs the remote call leaving p.state and returns the next
// state. On error the returned state is StateFailed.
func (o *Orchestrator) advance(ctx context.Context, p *pipeline) (State, error) {
	switch p.state {
	case StatePending:
		info, err := o.api.createJob(ctx, p.job)
		if err != nil {
			return StateFailed, err
		}
		p.jobID = info.ID
		p.info = info
		return StateCreated, nil

	case StateCreated:
		if err := o.api.uploadData(ctx, p.jobID, p.batch); err != nil {
			return StateFailed, err
		}
		return StateDataUploaded, nil

	case StateDataUploaded:
		info, err := o.api.closeJob(ctx, p.jobID)
		if info != nil {
			p.info = info
		}
		if err != nil {
			return StateFailed, err
		}
		return StateClosed, nil

	default:
		return StateFailed, errors.Newf(errors.ErrorTypeInternal, "batch in state %s cannot advance", p.state)
	}
}

// drive advances p until it reaches a terminal state. A cancelled context
// fails the batch before the next stage starts.
func (o *Orchestrator) drive(ctx context.Context, p *pipeline) error {
	for !p.state.Terminal() {
		if err := ctx.Err(); err != nil {
			stage := p.state.Stage()
			p.state = StateFailed
			return &errors.BulkAPIError{
				Stage: stage,
				JobID: p.jobID,
				Cause: errors.Wrap(err, errors.ErrorTypeTimeout, "bulk submit cancelled"),
			}
		}
		next, err := o.advance(ctx, p)
		if err != nil {
			p.state = StateFailed
			return err
		}
		p.state = next
	}
	return nil
}
