package composite

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/restapi"
)

// GraphPath is the composite graph resource.
const GraphPath = "/composite/graph"

// DefaultMaxNodes is the largest graph the API accepts.
const DefaultMaxNodes = 500

// GraphRequest is the composite graph request body.
type GraphRequest struct {
	Graphs []Graph `json:"graphs"`
}

// Graph is one independently committed graph.
type Graph struct {
	GraphID          string       `json:"graphId"`
	CompositeRequest []Subrequest `json:"compositeRequest"`
}

// Subrequest is one node of a graph.
type Subrequest struct {
	Method      string          `json:"method"`
	URL         string          `json:"url"`
	ReferenceID string          `json:"referenceId"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// GraphResponse is the composite graph response body.
type GraphResponse struct {
	Graphs []GraphResult `json:"graphs"`
}

// GraphResult is the outcome of one graph.
type GraphResult struct {
	GraphID       string `json:"graphId"`
	IsSuccessful  bool   `json:"isSuccessful"`
	GraphResponse struct {
		CompositeResponse []Subresponse `json:"compositeResponse"`
	} `json:"graphResponse"`
}

// Subresponse is the outcome of one node.
type Subresponse struct {
	ReferenceID    string            `json:"referenceId"`
	HTTPStatusCode int               `json:"httpStatusCode"`
	HTTPHeaders    map[string]string `json:"httpHeaders,omitempty"`
	Body           json.RawMessage   `json:"body"`
}

// newGraphID returns an id that is unique per commit. Graph ids must start
// with a letter and be alphanumeric.
func newGraphID() string {
	return "g" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// compiled is a unit of work translated to its wire form.
type compiled struct {
	request GraphRequest
	entries []entry
}

// compile validates the unit of work and builds the graph request. Every
// reference must be minted by this unit of work and registered before the
// operation using it, since the server resolves references in order.
func compile(u *UnitOfWork, endpoint restapi.Endpoint, maxNodes int) (*compiled, error) {
	if maxNodes > 0 && len(u.entries) > maxNodes {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"unit of work has %d operations, a graph holds at most %d", len(u.entries), maxNodes)
	}

	graph := Graph{
		GraphID:          newGraphID(),
		CompositeRequest: make([]Subrequest, 0, len(u.entries)),
	}

	for _, e := range u.entries {
		if e.ref.IsZero() {
			return nil, errors.New(errors.ErrorTypeValidation, "operation registered after the unit of work was built")
		}
		if e.err != nil {
			return nil, errors.Wrap(e.err, errors.ErrorTypeValidation, "invalid operation "+e.ref.String())
		}

		for _, ref := range e.op.References() {
			if !u.minter.Owns(ref) {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"%s uses a reference that does not belong to this unit of work", e.ref).
					WithDetail("reference", ref.String())
			}
			if ref.Seq() >= e.ref.Seq() {
				return nil, errors.Newf(errors.ErrorTypeValidation,
					"%s uses %s before it is registered", e.ref, ref).
					WithDetail("reference", ref.String())
			}
		}

		body, err := e.op.Body()
		if err != nil {
			return nil, err
		}
		graph.CompositeRequest = append(graph.CompositeRequest, Subrequest{
			Method:      e.op.Method(),
			URL:         endpoint.DataPath() + e.op.Path(),
			ReferenceID: e.ref.String(),
			Body:        body,
		})
	}

	return &compiled{
		request: GraphRequest{Graphs: []Graph{graph}},
		entries: u.entries,
	}, nil
}
