package composite

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/logger"
	"github.com/ajitpratap0/orbit/pkg/observability"
	"github.com/ajitpratap0/orbit/pkg/record"
	"github.com/ajitpratap0/orbit/pkg/restapi"
)

// Results maps every registered ReferenceID to its outcome.
type Results map[record.ReferenceID]restapi.RecordModificationResult

// Executor commits units of work.
type Executor struct {
	client   *restapi.Client
	maxNodes int
	logger   *zap.Logger
	metrics  *observability.MetricsCollector
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxNodes overrides the largest accepted unit of work.
func WithMaxNodes(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxNodes = n
		}
	}
}

// NewExecutor creates an executor sending graphs through client.
func NewExecutor(client *restapi.Client, log *zap.Logger, opts ...Option) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Executor{
		client:   client,
		maxNodes: DefaultMaxNodes,
		logger:   log.With(zap.String("component", "composite")),
		metrics:  observability.NewMetricsCollector("composite"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Commit sends the unit of work as one graph and returns one result per
// registered operation. If any operation fails the results are withheld and a
// *errors.DataAPIError carrying every failure is returned instead. Transport
// failures, malformed responses and local validation failures are returned as
// *errors.Error of the matching type.
//
// A unit of work can be committed once; an empty one returns an empty map
// without calling the API.
func (e *Executor) Commit(ctx context.Context, uow *UnitOfWork) (results Results, err error) {
	if uow == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "nil unit of work")
	}
	if !uow.committed.CompareAndSwap(false, true) {
		return nil, errors.New(errors.ErrorTypeValidation, "unit of work already committed")
	}
	if uow.Len() == 0 {
		return Results{}, nil
	}

	ctx, span := observability.StartSpan(ctx, "composite", "commit")
	span.SetAttribute("composite.operations", uow.Len())
	start := time.Now()
	defer func() {
		span.Fail(err)
		span.End()
		e.metrics.RecordRecords("commit", uow.Len(), err)
		if err != nil {
			e.metrics.RecordError("commit", errorType(err))
		}
	}()

	graph, err := compile(uow, e.client.Endpoint(), e.maxNodes)
	if err != nil {
		return nil, err
	}
	graphID := graph.request.Graphs[0].GraphID
	span.SetAttribute("composite.graph_id", graphID)

	log := e.logger.With(logger.Fields(ctx)...).With(zap.String("graph_id", graphID))
	log.Debug("committing unit of work", zap.Int("operations", uow.Len()))

	resp, err := e.client.SendJSON(ctx, http.MethodPost, GraphPath, graph.request)
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &errors.DataAPIError{Failures: []*errors.OperationFailure{
			restapi.NewFailure(resp.StatusCode, resp.Status, resp.Body),
		}}
	}

	results, err = demux(graph, graphID, resp.Body)
	if err != nil {
		var apiErr *errors.DataAPIError
		if errors.As(err, &apiErr) {
			log.Warn("unit of work rejected", zap.Int("failures", apiErr.Count()))
		}
		return nil, err
	}

	log.Info("unit of work committed",
		zap.Int("operations", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

// demux routes every sub-response to the parser of the operation that
// produced it and resolves ids of updates and deletes addressed by reference.
func demux(graph *compiled, graphID string, body []byte) (Results, error) {
	var resp GraphResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "malformed composite graph response")
	}

	var result *GraphResult
	for i := range resp.Graphs {
		if resp.Graphs[i].GraphID == graphID || (len(resp.Graphs) == 1 && resp.Graphs[i].GraphID == "") {
			result = &resp.Graphs[i]
			break
		}
	}
	if result == nil {
		return nil, errors.Newf(errors.ErrorTypeParse, "composite graph response has no graph %s", graphID)
	}

	byRef := make(map[string]Subresponse, len(result.GraphResponse.CompositeResponse))
	for _, sub := range result.GraphResponse.CompositeResponse {
		byRef[sub.ReferenceID] = sub
	}

	results := make(Results, len(graph.entries))
	var failures []*errors.OperationFailure

	for _, e := range graph.entries {
		refID := e.ref.String()
		sub, ok := byRef[refID]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeParse, "composite graph response has no entry for %s", refID)
		}

		res, err := e.op.Parse(sub.HTTPStatusCode, sub.Body)
		if err != nil {
			var failure *errors.OperationFailure
			if errors.As(err, &failure) {
				failure.ReferenceID = refID
				failures = append(failures, failure)
				continue
			}
			return nil, errors.Wrap(err, errors.ErrorTypeParse, "sub-response "+refID)
		}
		results[e.ref] = res
	}

	if len(failures) > 0 {
		return nil, &errors.DataAPIError{Failures: failures}
	}

	for _, e := range graph.entries {
		target, ok := e.op.TargetReference()
		if !ok {
			continue
		}
		res := results[e.ref]
		res.ID = results[target].ID
		results[e.ref] = res
	}
	return results, nil
}

func errorType(err error) string {
	var typed *errors.Error
	if errors.As(err, &typed) {
		return string(typed.Type)
	}
	return "remote"
}
