// Package dataapi is the single entry point to a record data API: queries,
// single-record writes, units of work committed as one composite graph, and
// bulk ingest jobs.
//
//	api, err := dataapi.New(cfg, logger.Get())
//	if err != nil {
//		return err
//	}
//	defer api.Close()
//
//	uow := api.NewUnitOfWorkBuilder()
//	account := uow.RegisterCreate(api.NewRecordBuilder("Account").
//		Set("Name", record.String("Acme")).Build())
//	uow.RegisterCreate(api.NewRecordBuilder("Contact").
//		Set("LastName", record.String("Coyote")).
//		Set("AccountId", record.Ref(account)).Build())
//	results, err := api.CommitUnitOfWork(ctx, uow.Build())
package dataapi

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/bulk"
	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/composite"
	"github.com/ajitpratap0/orbit/pkg/config"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/record"
	"github.com/ajitpratap0/orbit/pkg/restapi"
	"github.com/ajitpratap0/orbit/pkg/spool"
)

// Client exposes the data API. It is safe for concurrent use.
type Client struct {
	config   *config.ClientConfig
	http     *clients.HTTPClient
	rest     *restapi.Client
	executor *composite.Executor
	bulk     *bulk.Orchestrator
	logger   *zap.Logger
}

// New validates cfg and wires a client. The access token in cfg is sent as a
// bearer token on every call.
func New(cfg *config.ClientConfig, log *zap.Logger) (*Client, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := observability.Initialize(cfg.TracingConfig()); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to initialize tracing")
	}

	failed, err := spool.New(context.Background(), cfg.Spool, log)
	if err != nil {
		return nil, err
	}

	httpClient := clients.NewHTTPClient(cfg.HTTPConfig(), clients.StaticToken(cfg.Connection.AccessToken), log)
	rest := restapi.NewClient(httpClient, cfg.Endpoint(), log)

	var bulkOpts []bulk.Option
	if failed != nil {
		bulkOpts = append(bulkOpts, bulk.WithSpool(failed))
	}

	c := &Client{
		config:   cfg,
		http:     httpClient,
		rest:     rest,
		executor: composite.NewExecutor(rest, log, composite.WithMaxNodes(cfg.Composite.MaxNodes)),
		bulk:     bulk.NewOrchestrator(rest, cfg.BulkConfig(), log, bulkOpts...),
		logger:   log.With(zap.String("component", "dataapi")),
	}
	c.logger.Info("data api client ready",
		zap.String("instance_url", cfg.Connection.InstanceURL),
		zap.String("api_version", cfg.Endpoint().DataPath()),
		zap.Bool("spool", failed != nil))
	return c, nil
}

// Query runs a SOQL query and returns its first page.
func (c *Client) Query(ctx context.Context, soql string) (*restapi.QueryResult, error) {
	return c.rest.Query(ctx, soql)
}

// QueryMore fetches the next page using the cursor of a previous page.
func (c *Client) QueryMore(ctx context.Context, cursor string) (*restapi.QueryResult, error) {
	return c.rest.QueryMore(ctx, cursor)
}

// QueryAll streams every record of a query, following cursors as the
// iteration proceeds. The stream can feed a bulk job directly.
func (c *Client) QueryAll(ctx context.Context, soql string) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		page, err := c.rest.Query(ctx, soql)
		for {
			if err != nil {
				yield(record.Record{}, err)
				return
			}
			for _, rec := range page.Records {
				if !yield(rec, nil) {
					return
				}
			}
			if page.Done || page.NextRecordsURL == "" {
				return
			}
			page, err = c.rest.QueryMore(ctx, page.NextRecordsURL)
		}
	}
}

// Create inserts one record and returns its new id.
func (c *Client) Create(ctx context.Context, rec record.Record) (restapi.RecordModificationResult, error) {
	op, err := restapi.NewCreate(rec)
	if err != nil {
		return restapi.RecordModificationResult{}, err
	}
	return c.rest.Execute(ctx, op)
}

// Update changes the record addressed by its Id field.
func (c *Client) Update(ctx context.Context, rec record.Record) (restapi.RecordModificationResult, error) {
	op, err := restapi.NewUpdate(rec)
	if err != nil {
		return restapi.RecordModificationResult{}, err
	}
	return c.rest.Execute(ctx, op)
}

// Delete removes the record addressed by its Id field.
func (c *Client) Delete(ctx context.Context, rec record.Record) (restapi.RecordModificationResult, error) {
	op, err := restapi.NewDelete(rec)
	if err != nil {
		return restapi.RecordModificationResult{}, err
	}
	return c.rest.Execute(ctx, op)
}

// DeleteByID removes a record by type and id.
func (c *Client) DeleteByID(ctx context.Context, objectType, id string) (restapi.RecordModificationResult, error) {
	op, err := restapi.NewDeleteByID(objectType, id)
	if err != nil {
		return restapi.RecordModificationResult{}, err
	}
	return c.rest.Execute(ctx, op)
}

// NewRecordBuilder starts a record of objectType.
func (c *Client) NewRecordBuilder(objectType string) *record.Builder {
	return record.NewBuilder(objectType)
}

// NewUnitOfWorkBuilder starts a unit of work.
func (c *Client) NewUnitOfWorkBuilder() *composite.Builder {
	return composite.NewBuilder()
}

// CommitUnitOfWork sends every registered operation in one composite graph.
func (c *Client) CommitUnitOfWork(ctx context.Context, uow *composite.UnitOfWork) (composite.Results, error) {
	return c.executor.Commit(ctx, uow)
}

// NewBulkJob starts a bulk job.
func (c *Client) NewBulkJob(objectType string, operation bulk.Operation) *bulk.JobBuilder {
	return bulk.NewJob(objectType, operation)
}

// Submit runs a bulk job and returns one result per batch in production order.
func (c *Client) Submit(ctx context.Context, job *bulk.Job) ([]bulk.JobBatchResult, error) {
	return c.bulk.Submit(ctx, job)
}

// JobInfo fetches the remote state of a bulk ingest job.
func (c *Client) JobInfo(ctx context.Context, jobID string) (*bulk.JobInfo, error) {
	return c.bulk.JobInfo(ctx, jobID)
}

// Config returns the configuration the client was built with.
func (c *Client) Config() *config.ClientConfig { return c.config }

// Stats returns HTTP client statistics.
func (c *Client) Stats() clients.HTTPStats { return c.http.Stats() }

// Close releases idle connections.
func (c *Client) Close() error {
	stats := c.http.Stats()
	c.logger.Info("data api client closed",
		zap.Int64("requests", stats.TotalRequests),
		zap.Int64("failed_requests", stats.FailedRequests))
	return c.http.Close()
}
