package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"regexp"
	"sync"
	"testing"
)

var dataPathPrefix = regexp.MustCompile(`^/services/data/v[0-9.]+`)

// Call is one request received by a StubAPI. Path is relative to the
// versioned data path, e.g. "/jobs/ingest".
type Call struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// Responder produces the status and body answering a call.
type Responder func(call Call) (status int, body string)

type route struct {
	method  string
	pattern string
	respond Responder
}

// StubAPI is an in-process stand-in for the record data API. Routes are
// matched in registration order with path.Match patterns against the path
// below the versioned prefix, so "/jobs/ingest/*/batches" matches any job.
type StubAPI struct {
	*httptest.Server

	mu     sync.Mutex
	routes []route
	calls  []Call
}

// NewStubAPI starts a stub server that is closed when the test ends.
func NewStubAPI(t *testing.T) *StubAPI {
	s := &StubAPI{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// Handle registers a responder for method and path pattern.
func (s *StubAPI) Handle(method, pattern string, respond Responder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes = append(s.routes, route{method: method, pattern: pattern, respond: respond})
}

// Reply registers a fixed response.
func (s *StubAPI) Reply(method, pattern string, status int, body string) {
	s.Handle(method, pattern, func(Call) (int, string) { return status, body })
}

// Calls returns every call received so far, in arrival order.
func (s *StubAPI) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallsTo returns the calls matching method and path pattern.
func (s *StubAPI) CallsTo(method, pattern string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if ok, _ := path.Match(pattern, c.Path); ok && c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (s *StubAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	call := Call{
		Method: r.Method,
		Path:   dataPathPrefix.ReplaceAllString(r.URL.Path, ""),
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	}

	s.mu.Lock()
	s.calls = append(s.calls, call)
	var respond Responder
	for _, rt := range s.routes {
		if ok, _ := path.Match(rt.pattern, call.Path); ok && rt.method == call.Method {
			respond = rt.respond
			break
		}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if respond == nil {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `[{"errorCode":"NOT_FOUND","message":"no stub for %s %s"}]`, call.Method, call.Path)
		return
	}
	status, out := respond(call)
	w.WriteHeader(status)
	_, _ = io.WriteString(w, out)
}
