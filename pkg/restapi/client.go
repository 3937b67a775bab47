package restapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ajitpratap0/orbit/pkg/clients"
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
)

// Sender performs one HTTP round trip. *clients.HTTPClient implements it.
type Sender interface {
	Send(ctx context.Context, req *clients.Request) (*clients.Response, error)
}

// Client issues data API calls against one endpoint.
type Client struct {
	sender   Sender
	endpoint Endpoint
	logger   *zap.Logger
}

// NewClient creates a client.
func NewClient(sender Sender, endpoint Endpoint, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		sender:   sender,
		endpoint: endpoint,
		logger:   logger.With(zap.String("component", "restapi")),
	}
}

// Endpoint returns the endpoint the client talks to.
func (c *Client) Endpoint() Endpoint { return c.endpoint }

// SendJSON sends body encoded as JSON to a data API path. A nil body sends no
// content. The response is returned whatever its status.
func (c *Client) SendJSON(ctx context.Context, method, path string, body interface{}) (*clients.Response, error) {
	req, err := c.NewJSONRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	return c.sender.Send(ctx, req)
}

// NewJSONRequest builds the request SendJSON would send, for callers that
// need to adjust it first.
func (c *Client) NewJSONRequest(method, path string, body interface{}) (*clients.Request, error) {
	req := &clients.Request{Method: method, URL: c.endpoint.URL(path)}
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode request body")
		}
		req.Body = payload
		req.ContentType = "application/json"
	}
	return req, nil
}

// Send forwards a prepared request to the underlying sender.
func (c *Client) Send(ctx context.Context, req *clients.Request) (*clients.Response, error) {
	return c.sender.Send(ctx, req)
}

// Execute sends op on its own. A remote rejection is returned as a
// *errors.DataAPIError holding one failure. References have no meaning
// outside a unit of work and are rejected before any I/O.
func (c *Client) Execute(ctx context.Context, op *Operation) (RecordModificationResult, error) {
	if refs := op.References(); len(refs) > 0 {
		return RecordModificationResult{}, errors.Newf(errors.ErrorTypeValidation,
			"%s of %s uses reference %s outside a unit of work", op.Kind(), op.ObjectType(), refs[0])
	}

	body, err := op.Body()
	if err != nil {
		return RecordModificationResult{}, err
	}

	req := &clients.Request{Method: op.Method(), URL: c.endpoint.URL(op.Path()), Body: body}
	if body != nil {
		req.ContentType = "application/json"
	}
	resp, err := c.sender.Send(ctx, req)
	if err != nil {
		return RecordModificationResult{}, err
	}

	result, err := op.Parse(resp.StatusCode, resp.Body)
	if err != nil {
		var failure *errors.OperationFailure
		if errors.As(err, &failure) {
			return RecordModificationResult{}, &errors.DataAPIError{Failures: []*errors.OperationFailure{failure}}
		}
		return RecordModificationResult{}, err
	}

	c.logger.Debug("record written",
		zap.String("kind", string(op.Kind())),
		zap.String("object", op.ObjectType()),
		zap.String("id", result.ID))
	return result, nil
}

// Query runs soql and returns the first page.
func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	return c.fetchPage(ctx, c.endpoint.URL(QueryPath(soql)))
}

// QueryMore fetches the page addressed by a cursor from a previous result.
func (c *Client) QueryMore(ctx context.Context, cursor string) (*QueryResult, error) {
	if cursor == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "query cursor is empty")
	}
	return c.fetchPage(ctx, c.endpoint.Absolute(cursor))
}

func (c *Client) fetchPage(ctx context.Context, url string) (*QueryResult, error) {
	resp, err := c.sender.Send(ctx, &clients.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, &errors.DataAPIError{Failures: []*errors.OperationFailure{
			NewFailure(resp.StatusCode, resp.Status, resp.Body),
		}}
	}
	return ParseQueryResult(resp.Body)
}
