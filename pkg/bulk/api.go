package bulk

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/csvbatch"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/restapi"
)

// IngestPath is the ingest job collection, relative to the data API root.
const IngestPath = "/jobs/ingest"

// Remote job states.
const (
	JobStateOpen           = "Open"
	JobStateUploadComplete = "UploadComplete"
	JobStateInProgress     = "InProgress"
	JobStateJobComplete    = "JobComplete"
	JobStateAborted        = "Aborted"
	JobStateFailed         = "Failed"
)

// JobInfo is the remote description of an ingest job.
type JobInfo struct {
	ID                     string  `json:"id"`
	Object                 string  `json:"object"`
	Operation              string  `json:"operation"`
	State                  string  `json:"state"`
	ExternalIDFieldName    string  `json:"externalIdFieldName,omitempty"`
	ContentType            string  `json:"contentType,omitempty"`
	LineEnding             string  `json:"lineEnding,omitempty"`
	ColumnDelimiter        string  `json:"columnDelimiter,omitempty"`
	APIVersion             float64 `json:"apiVersion,omitempty"`
	CreatedDate            string  `json:"createdDate,omitempty"`
	SystemModstamp         string  `json:"systemModstamp,omitempty"`
	NumberRecordsProcessed int64   `json:"numberRecordsProcessed,omitempty"`
	NumberRecordsFailed    int64   `json:"numberRecordsFailed,omitempty"`
	ErrorMessage           string  `json:"errorMessage,omitempty"`
}

// Ended reports whether the remote job stopped without being processed.
func (i *JobInfo) Ended() bool {
	return i.State == JobStateFailed || i.State == JobStateAborted
}

type createJobRequest struct {
	Object              string `json:"object"`
	Operation           string `json:"operation"`
	ContentType         string `json:"contentType"`
	LineEnding          string `json:"lineEnding"`
	ExternalIDFieldName string `json:"externalIdFieldName,omitempty"`
	AssignmentRuleID    string `json:"assignmentRuleId,omitempty"`
}

type stateChangeRequest struct {
	State string `json:"state"`
}

func jobPath(id string) string {
	return IngestPath + "/" + url.PathEscape(id)
}

func batchesPath(id string) string {
	return jobPath(id) + "/batches"
}

// ingestAPI issues the remote calls of the job lifecycle. Every failure is
// returned as a *errors.BulkAPIError naming the stage.
type ingestAPI struct {
	client   *restapi.Client
	compress bool
}

// sendJSON keeps stage calls out of the shared circuit breaker: a batch's
// outcome must not decide whether other batches may reach the server.
func (a *ingestAPI) sendJSON(ctx context.Context, method, path string, body interface{}) (*clients.Response, error) {
	req, err := a.client.NewJSONRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	req.Isolated = true
	return a.client.Send(ctx, req)
}

func (a *ingestAPI) createJob(ctx context.Context, job *Job) (info *JobInfo, err error) {
	ctx, span := observability.StartSpan(ctx, "bulk", StageCreate)
	defer func() { span.Fail(err); span.End() }()

	resp, err := a.sendJSON(ctx, http.MethodPost, IngestPath, createJobRequest{
		Object:              job.objectType,
		Operation:           string(job.operation),
		ContentType:         "CSV",
		LineEnding:          "LF",
		ExternalIDFieldName: job.externalIDField,
		AssignmentRuleID:    job.assignmentRuleID,
	})
	info, err = decodeJobInfo(StageCreate, "", resp, err)
	if err != nil {
		return nil, err
	}
	if info.ID == "" {
		return nil, &errors.BulkAPIError{
			Stage:      StageCreate,
			StatusCode: resp.StatusCode,
			Cause:      errors.New(errors.ErrorTypeParse, "job info has no id"),
		}
	}
	span.SetAttribute("bulk.job_id", info.ID)
	return info, nil
}

func (a *ingestAPI) uploadData(ctx context.Context, jobID string, batch csvbatch.Batch) (err error) {
	ctx, span := observability.StartSpan(ctx, "bulk", StageUpload)
	span.SetAttribute("bulk.job_id", jobID)
	span.SetAttribute("bulk.batch_bytes", batch.Size)
	defer func() { span.Fail(err); span.End() }()

	resp, err := a.client.Send(ctx, &clients.Request{
		Method:      http.MethodPut,
		URL:         a.client.Endpoint().URL(batchesPath(jobID)),
		Body:        batch.Bytes(),
		ContentType: "text/csv",
		Compress:    a.compress,
		Isolated:    true,
	})
	if err != nil {
		return &errors.BulkAPIError{Stage: StageUpload, JobID: jobID, Cause: err}
	}
	if !resp.IsSuccess() {
		return remoteFailure(StageUpload, jobID, resp)
	}
	return nil
}

// closeJob marks the upload complete. A job the server reports as failed or
// aborted is a close failure.
func (a *ingestAPI) closeJob(ctx context.Context, jobID string) (info *JobInfo, err error) {
	ctx, span := observability.StartSpan(ctx, "bulk", StageClose)
	span.SetAttribute("bulk.job_id", jobID)
	defer func() { span.Fail(err); span.End() }()

	resp, err := a.sendJSON(ctx, http.MethodPatch, jobPath(jobID), stateChangeRequest{State: JobStateUploadComplete})
	info, err = decodeJobInfo(StageClose, jobID, resp, err)
	if err != nil {
		return nil, err
	}
	if info.Ended() {
		message := info.ErrorMessage
		if message == "" {
			message = "job ended in state " + info.State
		}
		return info, &errors.BulkAPIError{
			Stage:      StageClose,
			JobID:      jobID,
			StatusCode: resp.StatusCode,
			Errors:     []errors.APIError{{Code: "JOB_" + strings.ToUpper(info.State), Message: message}},
		}
	}
	return info, nil
}

// abortJob asks the server to discard a job. It ignores cancellation of ctx.
func (a *ingestAPI) abortJob(ctx context.Context, jobID string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	resp, err := a.sendJSON(ctx, http.MethodPatch, jobPath(jobID), stateChangeRequest{State: JobStateAborted})
	if err != nil {
		return &errors.BulkAPIError{Stage: StageAbort, JobID: jobID, Cause: err}
	}
	if !resp.IsSuccess() {
		return remoteFailure(StageAbort, jobID, resp)
	}
	return nil
}

func (a *ingestAPI) jobInfo(ctx context.Context, jobID string) (*JobInfo, error) {
	if jobID == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "job id is empty")
	}
	resp, err := a.sendJSON(ctx, http.MethodGet, jobPath(jobID), nil)
	return decodeJobInfo(StageInfo, jobID, resp, err)
}

func decodeJobInfo(stage, jobID string, resp *clients.Response, err error) (*JobInfo, error) {
	if err != nil {
		return nil, &errors.BulkAPIError{Stage: stage, JobID: jobID, Cause: err}
	}
	if !resp.IsSuccess() {
		return nil, remoteFailure(stage, jobID, resp)
	}
	var info JobInfo
	if err := json.Unmarshal(resp.Body, &info); err != nil {
		return nil, &errors.BulkAPIError{
			Stage:      stage,
			JobID:      jobID,
			StatusCode: resp.StatusCode,
			Cause:      errors.Wrap(err, errors.ErrorTypeParse, "malformed job info"),
		}
	}
	return &info, nil
}

func remoteFailure(stage, jobID string, resp *clients.Response) *errors.BulkAPIError {
	return errors.FromFailure(stage, jobID, restapi.NewFailure(resp.StatusCode, resp.Status, resp.Body))
}
