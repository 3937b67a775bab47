package bulk_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/orbit/pkg/bulk"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/record"
	"github.com/ajitpratap0/orbit/pkg/restapi"
	"github.com/ajitpratap0/orbit/pkg/testutil"
)

// Every test record is "Name\n" plus a short row, so a 14 byte ceiling holds
// exactly three records of the form r0..r9.
const threePerBatch = 14

func newOrchestrator(t *testing.T, stub *testutil.StubAPI, cfg bulk.Config, opts ...bulk.Option) *bulk.Orchestrator {
	endpoint := restapi.Endpoint{InstanceURL: stub.URL, APIVersion: "59.0"}
	client := restapi.NewClient(testutil.TestHTTPClient(t), endpoint, testutil.TestLogger(t))
	return bulk.NewOrchestrator(client, cfg, testutil.TestLogger(t), opts...)
}

func names(n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		out[i] = record.NewBuilder("Account").Set("Name", record.String(fmt.Sprintf("r%d", i))).Build()
	}
	return out
}

func fromSlice(records []record.Record) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func newJob(t *testing.T, src iter.Seq2[record.Record, error]) *bulk.Job {
	job, err := bulk.NewJob("Account", bulk.OperationInsert).Records(src).Build()
	require.NoError(t, err)
	return job
}

func jobIDOf(call testutil.Call) string {
	parts := strings.Split(strings.TrimPrefix(call.Path, bulk.IngestPath+"/"), "/")
	return parts[0]
}

// ingestServer wires create, upload and close handlers that succeed.
// Uploads answered by failUpload are rejected instead.
func ingestServer(t *testing.T, stub *testutil.StubAPI, failUpload func(body string) bool) {
	var seq atomic.Int64
	stub.Handle(http.MethodPost, bulk.IngestPath, func(call testutil.Call) (int, string) {
		id := fmt.Sprintf("750J%04d", seq.Add(1))
		return http.StatusOK, fmt.Sprintf(`{"id":%q,"object":"Account","operation":"insert","state":"Open"}`, id)
	})
	stub.Handle(http.MethodPut, bulk.IngestPath+"/*/batches", func(call testutil.Call) (int, string) {
		if failUpload != nil && failUpload(string(call.Body)) {
			return http.StatusInternalServerError, ""
		}
		return http.StatusCreated, ""
	})
	stub.Handle(http.MethodPatch, bulk.IngestPath+"/*", func(call testutil.Call) (int, string) {
		var req struct {
			State string `json:"state"`
		}
		require.NoError(t, gojson.Unmarshal(call.Body, &req))
		return http.StatusOK, fmt.Sprintf(`{"id":%q,"state":%q}`, jobIDOf(call), req.State)
	})
}

func TestSubmit_OneResultPerBatchInOrder(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, nil)

	records := names(10)
	o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, Concurrency: 3})
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	results, err := o.Submit(ctx, newJob(t, fromSlice(records)))
	require.NoError(t, err)
	require.Len(t, results, 4)

	jobIDs := make(map[string]bool)
	var joined []record.Record
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.NoError(t, res.Err)
		assert.True(t, res.OK())
		assert.Equal(t, bulk.StateClosed, res.State)
		assert.Equal(t, bulk.JobStateUploadComplete, res.Info.State)
		assert.NotEmpty(t, res.JobID)
		jobIDs[res.JobID] = true
		joined = append(joined, res.Records...)
	}
	assert.Len(t, jobIDs, 4, "every batch runs in its own job")
	assert.Len(t, results[3].Records, 1)
	require.Len(t, joined, len(records))
	for i := range records {
		assert.True(t, records[i].Equal(joined[i]))
	}

	creates := stub.CallsTo(http.MethodPost, bulk.IngestPath)
	require.Len(t, creates, 4)
	assert.JSONEq(t,
		`{"object":"Account","operation":"insert","contentType":"CSV","lineEnding":"LF"}`,
		string(creates[0].Body))
	assert.Len(t, stub.CallsTo(http.MethodPut, bulk.IngestPath+"/*/batches"), 4)

	for _, upload := range stub.CallsTo(http.MethodPut, bulk.IngestPath+"/*/batches") {
		assert.Equal(t, "text/csv", upload.Header.Get("Content-Type"))
		assert.True(t, strings.HasPrefix(string(upload.Body), "Name\n"))
		assert.Empty(t, upload.Header.Get("Content-Encoding"))
	}
	for _, call := range stub.CallsTo(http.MethodPatch, bulk.IngestPath+"/*") {
		assert.JSONEq(t, `{"state":"UploadComplete"}`, string(call.Body))
	}
}

func TestSubmit_FailedUploadIsIsolated(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, func(body string) bool {
		return strings.Contains(body, "\nr3\n")
	})

	records := names(9)
	o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, Concurrency: 3})
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	results, err := o.Submit(ctx, newJob(t, fromSlice(records)))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[2].Err)

	failed := results[1]
	require.Error(t, failed.Err)
	assert.Equal(t, bulk.StateFailed, failed.State)
	require.Len(t, failed.Records, 3)
	for i, rec := range failed.Records {
		assert.True(t, records[3+i].Equal(rec))
	}

	var bulkErr *errors.BulkAPIError
	require.ErrorAs(t, failed.Err, &bulkErr)
	assert.Equal(t, bulk.StageUpload, bulkErr.Stage)
	assert.Equal(t, failed.JobID, bulkErr.JobID)
	assert.Equal(t, http.StatusInternalServerError, bulkErr.StatusCode)
	require.Len(t, bulkErr.Errors, 1)
	assert.Equal(t, "HTTP_500", bulkErr.Errors[0].Code)

	var aborts []testutil.Call
	for _, call := range stub.CallsTo(http.MethodPatch, bulk.IngestPath+"/*") {
		if strings.Contains(string(call.Body), bulk.JobStateAborted) {
			aborts = append(aborts, call)
		}
	}
	require.Len(t, aborts, 1)
	assert.Equal(t, failed.JobID, jobIDOf(aborts[0]))
	assert.Len(t, stub.CallsTo(http.MethodPatch, bulk.IngestPath+"/*"), 3, "two closes and one abort")
}

func TestSubmit_StageFailures(t *testing.T) {
	tests := []struct {
		name       string
		create     func(testutil.Call) (int, string)
		close      func(testutil.Call) (int, string)
		wantStage  string
		wantCode   string
		wantStatus int
		wantJob    bool
		wantParse  bool
	}{
		{
			name: "create rejected",
			create: func(testutil.Call) (int, string) {
				return http.StatusBadRequest, `[{"errorCode":"INVALIDJOB","message":"Unable to find object: Acount","fields":[]}]`
			},
			wantStage:  bulk.StageCreate,
			wantCode:   "INVALIDJOB",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "create returns garbage",
			create: func(testutil.Call) (int, string) {
				return http.StatusOK, `<html>maintenance</html>`
			},
			wantStage:  bulk.StageCreate,
			wantStatus: http.StatusOK,
			wantParse:  true,
		},
		{
			name: "job failed on close",
			close: func(call testutil.Call) (int, string) {
				return http.StatusOK, fmt.Sprintf(`{"id":%q,"state":"Failed","errorMessage":"InvalidBatch : Field name not found : Nme"}`, jobIDOf(call))
			},
			wantStage:  bulk.StageClose,
			wantCode:   "JOB_FAILED",
			wantStatus: http.StatusOK,
			wantJob:    true,
		},
		{
			name: "close rejected",
			close: func(testutil.Call) (int, string) {
				return http.StatusNotFound, `[{"errorCode":"NOT_FOUND","message":"Job not found"}]`
			},
			wantStage:  bulk.StageClose,
			wantCode:   "NOT_FOUND",
			wantStatus: http.StatusNotFound,
			wantJob:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := testutil.NewStubAPI(t)
			if tt.create != nil {
				stub.Handle(http.MethodPost, bulk.IngestPath, tt.create)
			}
			if tt.close != nil {
				stub.Handle(http.MethodPatch, bulk.IngestPath+"/*", tt.close)
			}
			ingestServer(t, stub, nil)

			o := newOrchestrator(t, stub, bulk.Config{})
			ctx, cancel := testutil.TestContext(t)
			defer cancel()

			results, err := o.Submit(ctx, newJob(t, fromSlice(names(2))))
			require.NoError(t, err)
			require.Len(t, results, 1)

			res := results[0]
			var bulkErr *errors.BulkAPIError
			require.ErrorAs(t, res.Err, &bulkErr)
			assert.Equal(t, tt.wantStage, bulkErr.Stage)
			assert.Equal(t, tt.wantStatus, bulkErr.StatusCode)
			if tt.wantCode != "" {
				require.NotEmpty(t, bulkErr.Errors)
				assert.Equal(t, tt.wantCode, bulkErr.Errors[0].Code)
			}
			if tt.wantParse {
				assert.True(t, errors.IsParse(res.Err))
			}
			assert.Equal(t, tt.wantJob, res.JobID != "")
			assert.Len(t, res.Records, 2)
			assert.Equal(t, bulk.StateFailed, res.State)
		})
	}
}

func TestSubmit_TransportFailure(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	o := newOrchestrator(t, stub, bulk.Config{})
	stub.Close()

	results, err := o.Submit(context.Background(), newJob(t, fromSlice(names(3))))
	require.NoError(t, err)
	require.Len(t, results, 1)

	var bulkErr *errors.BulkAPIError
	require.ErrorAs(t, results[0].Err, &bulkErr)
	assert.Equal(t, bulk.StageCreate, bulkErr.Stage)
	require.Error(t, bulkErr.Cause)
	assert.True(t, errors.IsTransport(results[0].Err))
	assert.Contains(t, results[0].Err.Error(), bulkErr.Cause.Error())
}

func TestSubmit_Upsert(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, nil)
	o := newOrchestrator(t, stub, bulk.Config{})

	job, err := bulk.NewJob("Contact", bulk.OperationUpsert).
		ExternalIDField("Email").
		AssignmentRuleID("01Q000000000001").
		Records(fromSlice(names(1))).
		Build()
	require.NoError(t, err)

	results, err := o.Submit(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	creates := stub.CallsTo(http.MethodPost, bulk.IngestPath)
	require.Len(t, creates, 1)
	assert.JSONEq(t, `{
		"object":"Contact","operation":"upsert","contentType":"CSV","lineEnding":"LF",
		"externalIdFieldName":"Email","assignmentRuleId":"01Q000000000001"
	}`, string(creates[0].Body))
}

func TestSubmit_Oversized(t *testing.T) {
	big := record.NewBuilder("Account").Set("Name", record.String(strings.Repeat("x", 64))).Build()
	records := append(names(2), big)

	t.Run("uploaded by default", func(t *testing.T) {
		stub := testutil.NewStubAPI(t)
		ingestServer(t, stub, nil)
		o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch})

		results, err := o.Submit(context.Background(), newJob(t, fromSlice(records)))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.True(t, results[1].Oversized)
		assert.NoError(t, results[1].Err)
	})

	t.Run("rejected locally", func(t *testing.T) {
		stub := testutil.NewStubAPI(t)
		ingestServer(t, stub, nil)
		o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, RejectOversized: true})

		results, err := o.Submit(context.Background(), newJob(t, fromSlice(records)))
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.NoError(t, results[0].Err)
		assert.True(t, errors.IsValidation(results[1].Err))
		assert.Empty(t, results[1].JobID)
		require.Len(t, results[1].Records, 1)
		assert.True(t, big.Equal(results[1].Records[0]))
		assert.Len(t, stub.CallsTo(http.MethodPost, bulk.IngestPath), 1, "only the small batch created a job")
	})
}

type memorySpool struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (s *memorySpool) Store(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries == nil {
		s.entries = make(map[string][]byte)
	}
	s.entries[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

func TestSubmit_SpoolsFailedBatches(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, func(body string) bool { return strings.Contains(body, "\nr0\n") })

	spool := &memorySpool{}
	o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch}, bulk.WithSpool(spool))

	results, err := o.Submit(context.Background(), newJob(t, fromSlice(names(6))))
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Error(t, results[0].Err)
	assert.Empty(t, results[1].SpoolLocation)
	require.True(t, strings.HasPrefix(results[0].SpoolLocation, "mem://Account/insert/"))
	assert.True(t, strings.HasSuffix(results[0].SpoolLocation, "/batch-00000.csv"))

	require.Len(t, spool.entries, 1)
	for _, data := range spool.entries {
		assert.Equal(t, "Name\nr0\nr1\nr2\n", string(data))
	}
}

func TestSubmit_CompressedUpload(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, nil)
	o := newOrchestrator(t, stub, bulk.Config{Compress: true})

	results, err := o.Submit(context.Background(), newJob(t, fromSlice(names(2))))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	uploads := stub.CallsTo(http.MethodPut, bulk.IngestPath+"/*/batches")
	require.Len(t, uploads, 1)
	assert.Equal(t, "gzip", uploads[0].Header.Get("Content-Encoding"))

	zr, err := gzip.NewReader(bytes.NewReader(uploads[0].Body))
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "Name\nr0\nr1\n", string(plain))
}

func TestSubmit_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stub := testutil.NewStubAPI(t)
	stub.Handle(http.MethodPost, bulk.IngestPath, func(testutil.Call) (int, string) {
		cancel()
		return http.StatusOK, `{"id":"750J0001","state":"Open"}`
	})
	ingestServer(t, stub, nil)
	o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, Concurrency: 1})

	var read atomic.Int64
	endless := func(yield func(record.Record, error) bool) {
		for i := 0; ; i++ {
			read.Add(1)
			rec := record.NewBuilder("Account").Set("Name", record.String(fmt.Sprintf("c%d", i%10))).Build()
			if !yield(rec, nil) {
				return
			}
		}
	}

	results, err := o.Submit(ctx, newJob(t, endless))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.ErrorIs(t, err, context.Canceled)

	require.NotEmpty(t, results)
	total := 0
	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Error(t, res.Err, "batch %d observed the cancellation", i)
		assert.Equal(t, bulk.StateFailed, res.State)
		total += len(res.Records)
	}
	assert.Equal(t, int(read.Load()), total, "every record read is reported in some batch")
	assert.Empty(t, stub.CallsTo(http.MethodPut, bulk.IngestPath+"/*/batches"))
}

func TestSubmit_SourceError(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	ingestServer(t, stub, nil)
	o := newOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch})

	src := func(yield func(record.Record, error) bool) {
		for _, rec := range names(4) {
			if !yield(rec, nil) {
				return
			}
		}
		yield(record.Record{}, fmt.Errorf("connection reset"))
	}

	results, err := o.Submit(context.Background(), newJob(t, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Len(t, results[1].Records, 1)
}

func TestJobInfo(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	stub.Reply(http.MethodGet, bulk.IngestPath+"/750J0001", http.StatusOK,
		`{"id":"750J0001","object":"Account","operation":"insert","state":"JobComplete","apiVersion":59.0,"numberRecordsProcessed":42,"numberRecordsFailed":1}`)
	o := newOrchestrator(t, stub, bulk.Config{})

	info, err := o.JobInfo(context.Background(), "750J0001")
	require.NoError(t, err)
	assert.Equal(t, bulk.JobStateJobComplete, info.State)
	assert.Equal(t, int64(42), info.NumberRecordsProcessed)
	assert.Equal(t, int64(1), info.NumberRecordsFailed)
	assert.False(t, info.Ended())

	_, err = o.JobInfo(context.Background(), "750Jmissing")
	var bulkErr *errors.BulkAPIError
	require.ErrorAs(t, err, &bulkErr)
	assert.Equal(t, bulk.StageInfo, bulkErr.Stage)
	assert.Equal(t, http.StatusNotFound, bulkErr.StatusCode)

	_, err = o.JobInfo(context.Background(), "")
	assert.True(t, errors.IsValidation(err))
}

func TestJobBuilder(t *testing.T) {
	src := fromSlice(nil)
	tests := []struct {
		name    string
		builder *bulk.JobBuilder
		wantErr bool
	}{
		{"insert", bulk.NewJob("Account", bulk.OperationInsert).Records(src), false},
		{"hard delete", bulk.NewJob("Account", bulk.OperationHardDelete).Records(src), false},
		{"upsert with key", bulk.NewJob("Account", bulk.OperationUpsert).ExternalIDField("Ext__c").Records(src), false},
		{"upsert without key", bulk.NewJob("Account", bulk.OperationUpsert).Records(src), true},
		{"missing object", bulk.NewJob("", bulk.OperationInsert).Records(src), true},
		{"unknown operation", bulk.NewJob("Account", "merge").Records(src), true},
		{"missing source", bulk.NewJob("Account", bulk.OperationInsert), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := tt.builder.Build()
			if tt.wantErr {
				assert.True(t, errors.IsValidation(err))
				assert.Nil(t, job)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Account", job.ObjectType())
		})
	}
}

// A client with the default circuit breaker shared by every pipeline.
func newBreakerOrchestrator(t *testing.T, stub *testutil.StubAPI, cfg bulk.Config, log *zap.Logger) *bulk.Orchestrator {
	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.EnableHTTP2 = false
	httpCfg.RateLimit = 0
	require.True(t, httpCfg.CircuitBreakerEnabled)

	httpClient := clients.NewHTTPClient(httpCfg, clients.StaticToken("test-token"), log)
	t.Cleanup(func() { _ = httpClient.Close() })
	endpoint := restapi.Endpoint{InstanceURL: stub.URL, APIVersion: "59.0"}
	return bulk.NewOrchestrator(restapi.NewClient(httpClient, endpoint, log), cfg, log)
}

func TestSubmit_ServerErrorsDoNotTripOtherBatches(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	var uploads atomic.Int64
	ingestServer(t, stub, func(string) bool {
		return uploads.Add(1) <= 6
	})

	o := newBreakerOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, Concurrency: 8}, testutil.TestLogger(t))
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	results, err := o.Submit(ctx, newJob(t, fromSlice(names(24))))
	require.NoError(t, err)
	require.Greater(t, len(results), 6)

	var failed int
	for _, res := range results {
		if res.Err == nil {
			assert.Equal(t, bulk.StateClosed, res.State)
			continue
		}
		failed++
		assert.NotContains(t, res.Err.Error(), "circuit breaker open")
		var bulkErr *errors.BulkAPIError
		require.True(t, errors.As(res.Err, &bulkErr))
		assert.Equal(t, bulk.StageUpload, bulkErr.Stage)
		assert.Equal(t, http.StatusInternalServerError, bulkErr.StatusCode)
	}
	assert.Equal(t, 6, failed)

	var aborts int
	for _, call := range stub.CallsTo(http.MethodPatch, bulk.IngestPath+"/*") {
		if strings.Contains(string(call.Body), bulk.JobStateAborted) {
			aborts++
		}
	}
	assert.Equal(t, 6, aborts, "every failed batch's job is aborted")
}

func TestSubmit_FailedAbortIsWarned(t *testing.T) {
	stub := testutil.NewStubAPI(t)
	stub.Handle(http.MethodPost, bulk.IngestPath, func(call testutil.Call) (int, string) {
		return http.StatusOK, `{"id":"750J0001","state":"Open"}`
	})
	stub.Handle(http.MethodPut, bulk.IngestPath+"/*/batches", func(call testutil.Call) (int, string) {
		return http.StatusInternalServerError, ""
	})
	stub.Handle(http.MethodPatch, bulk.IngestPath+"/*", func(call testutil.Call) (int, string) {
		return http.StatusServiceUnavailable, ""
	})

	core, logs := observer.New(zapcore.WarnLevel)
	o := newBreakerOrchestrator(t, stub, bulk.Config{MaxBytes: threePerBatch, Concurrency: 1}, zap.New(core))
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	results, err := o.Submit(ctx, newJob(t, fromSlice(names(1))))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Err)

	warned := logs.FilterMessage("abort failed, remote job left open").All()
	require.Len(t, warned, 1)
	assert.Equal(t, "750J0001", warned[0].ContextMap()["job_id"])
}
