package bulk

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/orbit/pkg/csvbatch"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/record"
	"github.com/ajitpratap0/orbit/pkg/restapi"
)

// JobBatchResult is the outcome of one batch.
type JobBatchResult struct {
	// Index is the batch's production position.
	Index int
	// JobID is the remote job, empty when creation never succeeded.
	JobID string
	// State is the last state the batch reached.
	State State
	// Size is the encoded CSV size in bytes.
	Size int
	// Oversized is set when the batch is a single record above the ceiling.
	Oversized bool
	// Records are the batch's records. When Err is set none of them were
	// committed.
	Records []record.Record
	// Info is the last job description returned by the server.
	Info *JobInfo
	// Err is nil for a closed batch.
	Err error
	// SpoolLocation is where the failed batch's CSV was written, if anywhere.
	SpoolLocation string
}

// OK reports whether the batch was uploaded and closed.
func (r JobBatchResult) OK() bool { return r.Err == nil }

// Spool stores the CSV of failed batches for a later retry.
type Spool interface {
	Store(ctx context.Context, key string, data []byte) (location string, err error)
}

// Config tunes an Orchestrator.
type Config struct {
	// MaxBytes is the CSV size ceiling of one batch.
	MaxBytes int
	// Concurrency bounds the batches in flight.
	Concurrency int
	// RejectOversized fails oversized batches without calling the API.
	RejectOversized bool
	// Compress gzips uploads.
	Compress bool
	// NullText is the CSV cell written for null values.
	NullText string
	// AbortTimeout bounds the best-effort abort of a failed job.
	AbortTimeout time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		MaxBytes:     csvbatch.DefaultMaxBytes,
		Concurrency:  4,
		NullText:     csvbatch.DefaultNullText,
		AbortTimeout: 10 * time.Second,
	}
}

// Orchestrator submits bulk jobs. It is safe for concurrent use.
type Orchestrator struct {
	api     *ingestAPI
	batcher *csvbatch.Batcher
	config  Config
	spool   Spool
	logger  *zap.Logger
	metrics *observability.MetricsCollector
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSpool stores failed batches in s.
func WithSpool(s Spool) Option {
	return func(o *Orchestrator) { o.spool = s }
}

// NewOrchestrator creates an orchestrator calling the API through client.
func NewOrchestrator(client *restapi.Client, config Config, log *zap.Logger, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.NullText == "" {
		config.NullText = defaults.NullText
	}
	if config.AbortTimeout <= 0 {
		config.AbortTimeout = defaults.AbortTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	o := &Orchestrator{
		api:     &ingestAPI{client: client, compress: config.Compress},
		batcher: csvbatch.New(config.MaxBytes, csvbatch.WithNullText(config.NullText)),
		config:  config,
		logger:  log.With(zap.String("component", "bulk")),
		metrics: observability.NewMetricsCollector("bulk"),
	}
	o.config.MaxBytes = o.batcher.MaxBytes()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.config }

// Submit batches the job's records and runs each batch through its own
// ingest job, at most Config.Concurrency at a time. It returns once every
// batch has finished, with one result per batch in production order.
//
// A failing batch never affects the others; its error is recorded in its
// result. The returned error reports only a failure to read or encode the
// source, or cancellation of ctx: reading stops, the records already read are
// still batched, and every result up to that point is returned.
func (o *Orchestrator) Submit(ctx context.Context, job *Job) (results []JobBatchResult, err error) {
	if job == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "nil bulk job")
	}

	submitID := uuid.NewString()
	ctx = logger.ContextWithRequestID(ctx, submitID)
	ctx, span := observability.StartSpan(ctx, "bulk", "submit")
	span.SetAttribute("bulk.object", job.objectType)
	span.SetAttribute("bulk.operation", string(job.operation))
	start := time.Now()

	log := o.logger.With(logger.Fields(ctx)...).With(
		zap.String("object", job.objectType),
		zap.String("operation", string(job.operation)))
	log.Info("bulk submit started",
		zap.Int("max_bytes", o.config.MaxBytes),
		zap.Int("concurrency", o.config.Concurrency))

	var group errgroup.Group
	group.SetLimit(o.config.Concurrency)

	var slots []*JobBatchResult
	for batch, batchErr := range o.batcher.Batches(untilDone(ctx, job.records)) {
		if batchErr != nil {
			err = sourceError(batchErr)
			break
		}
		slot := &JobBatchResult{
			Index:     batch.Index,
			Size:      batch.Size,
			Oversized: batch.Oversized,
			Records:   batch.Records,
		}
		slots = append(slots, slot)
		group.Go(func() error {
			o.runBatch(ctx, job, submitID, batch, slot)
			return nil
		})
	}
	_ = group.Wait()

	results = make([]JobBatchResult, len(slots))
	failed := 0
	for i, slot := range slots {
		results[i] = *slot
		if slot.Err != nil {
			failed++
		}
	}

	span.SetAttribute("bulk.batches", len(results))
	span.SetAttribute("bulk.failed_batches", failed)
	span.Fail(err)
	span.End()
	o.metrics.RecordDuration("submit", time.Since(start), err)

	fields := []zap.Field{
		zap.Int("batches", len(results)),
		zap.Int("failed", failed),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		log.Warn("bulk submit stopped early", append(fields, zap.Error(err))...)
	} else {
		log.Info("bulk submit finished", fields...)
	}
	return results, err
}

// JobInfo fetches the remote description of a job.
func (o *Orchestrator) JobInfo(ctx context.Context, jobID string) (*JobInfo, error) {
	return o.api.jobInfo(ctx, jobID)
}

// runBatch drives one batch and fills its result slot.
func (o *Orchestrator) runBatch(ctx context.Context, job *Job, submitID string, batch csvbatch.Batch, slot *JobBatchResult) {
	ctx = logger.ContextWithJob(ctx, "", batch.Index)
	ctx, span := observability.StartSpan(ctx, "bulk", "batch")
	span.SetAttribute("bulk.batch_index", batch.Index)
	span.SetAttribute("bulk.batch_records", batch.Len())
	defer span.End()

	o.metrics.RecordBatchBytes(job.objectType, batch.Size)
	p := &pipeline{job: job, batch: batch, state: StatePending}

	var err error
	if batch.Oversized && o.config.RejectOversized {
		p.state = StateFailed
		err = errors.Newf(errors.ErrorTypeValidation,
			"record of %d bytes exceeds the %d byte batch limit", batch.Size, o.config.MaxBytes)
	} else {
		err = o.drive(ctx, p)
	}

	slot.JobID = p.jobID
	slot.State = p.state
	slot.Info = p.info
	slot.Err = err
	o.metrics.RecordRecords("batch", batch.Len(), err)

	log := o.logger.With(logger.Fields(ctx)...).With(zap.String("job_id", p.jobID))
	if err == nil {
		log.Debug("batch closed", zap.Int("records", batch.Len()), zap.Int("bytes", batch.Size))
		return
	}

	span.Fail(err)
	o.metrics.RecordError("batch", errorType(err))
	log.Warn("batch failed", zap.Int("records", batch.Len()), zap.Error(err))

	if p.jobID != "" && (p.info == nil || !p.info.Ended()) {
		if abortErr := o.api.abortJob(ctx, p.jobID, o.config.AbortTimeout); abortErr != nil {
			log.Warn("abort failed, remote job left open",
				zap.String("job_id", p.jobID), zap.Error(abortErr))
		}
	}

	if o.spool != nil {
		key := fmt.Sprintf("%s/%s/%s/batch-%05d.csv", job.objectType, job.operation, submitID, batch.Index)
		location, spoolErr := o.spool.Store(context.WithoutCancel(ctx), key, batch.Bytes())
		if spoolErr != nil {
			log.Error("failed to spool batch", zap.String("key", key), zap.Error(spoolErr))
		} else {
			slot.SpoolLocation = location
			log.Info("batch spooled", zap.String("location", location))
		}
	}
}

// untilDone stops reading src once ctx is done and yields the context error.
func untilDone(ctx context.Context, src iter.Seq2[record.Record, error]) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(record.Record{}, err)
			return
		}
		for rec, err := range src {
			if !yield(rec, err) || err != nil {
				return
			}
			if err := ctx.Err(); err != nil {
				yield(record.Record{}, err)
				return
			}
		}
	}
}

func sourceError(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(err, errors.ErrorTypeTimeout, "bulk submit cancelled before the source was exhausted")
	case errors.IsValidation(err):
		return err
	default:
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to read bulk record source")
	}
}

func errorType(err error) string {
	var typed *errors.Error
	if errors.As(err, &typed) {
		return string(typed.Type)
	}
	var bulkErr *errors.BulkAPIError
	if errors.As(err, &bulkErr) && bulkErr.Cause == nil {
		return "remote"
	}
	return "internal"
}
