// Package bulk drives record sets through the asynchronous bulk ingest API.
//
// A Job names an object type, an operation and an unbounded record source.
// Submit splits the source into byte-bounded CSV batches and runs every batch
// through its own ingest job: create, upload, close. Batches run concurrently
// and fail independently; the result list follows batch production order and
// every failed batch carries the exact records that were not committed.
//
//	job, err := bulk.NewJob("Contact", bulk.OperationUpsert).
//		ExternalIDField("Email").
//		Records(source.FromSlice(contacts)).
//		Build()
//	results, err := orchestrator.Submit(ctx, job)
package bulk

import (
	"iter"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// Operation is the write performed by an ingest job.
type Operation string

const (
	OperationInsert     Operation = "insert"
	OperationUpdate     Operation = "update"
	OperationUpsert     Operation = "upsert"
	OperationDelete     Operation = "delete"
	OperationHardDelete Operation = "hardDelete"
)

// Valid reports whether the operation is known to the ingest API.
func (o Operation) Valid() bool {
	switch o {
	case OperationInsert, OperationUpdate, OperationUpsert, OperationDelete, OperationHardDelete:
		return true
	}
	return false
}

// Job describes one bulk submission. Build it with NewJob.
type Job struct {
	objectType       string
	operation        Operation
	externalIDField  string
	assignmentRuleID string
	records          iter.Seq2[record.Record, error]
}

// ObjectType returns the target object type.
func (j *Job) ObjectType() string { return j.objectType }

// Operation returns the write operation.
func (j *Job) Operation() Operation { return j.operation }

// ExternalIDField returns the upsert key field, if any.
func (j *Job) ExternalIDField() string { return j.externalIDField }

// AssignmentRuleID returns the assignment rule applied to created records, if any.
func (j *Job) AssignmentRuleID() string { return j.assignmentRuleID }

// JobBuilder assembles a Job.
type JobBuilder struct {
	job Job
}

// NewJob starts a job for objectType.
func NewJob(objectType string, operation Operation) *JobBuilder {
	return &JobBuilder{job: Job{objectType: objectType, operation: operation}}
}

// ExternalIDField sets the field matching upserted records to existing ones.
func (b *JobBuilder) ExternalIDField(name string) *JobBuilder {
	b.job.externalIDField = name
	return b
}

// AssignmentRuleID sets the assignment rule for created cases or leads.
func (b *JobBuilder) AssignmentRuleID(id string) *JobBuilder {
	b.job.assignmentRuleID = id
	return b
}

// Records sets the record source. The source is read once, forward only.
func (b *JobBuilder) Records(src iter.Seq2[record.Record, error]) *JobBuilder {
	b.job.records = src
	return b
}

// Build validates and returns the job.
func (b *JobBuilder) Build() (*Job, error) {
	job := b.job
	switch {
	case job.objectType == "":
		return nil, errors.New(errors.ErrorTypeValidation, "bulk job requires an object type")
	case !job.operation.Valid():
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown bulk operation %q", job.operation)
	case job.operation == OperationUpsert && job.externalIDField == "":
		return nil, errors.New(errors.ErrorTypeValidation, "upsert requires an external id field")
	case job.records == nil:
		return nil, errors.New(errors.ErrorTypeValidation, "bulk job has no record source")
	}
	return &job, nil
}
