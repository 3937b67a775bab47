package restapi

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// RecordModificationResult is the outcome of a successful create, update or
// delete.
type RecordModificationResult struct {
	ID string `json:"id"`
}

// OperationKind names the write an Operation performs.
type OperationKind string

const (
	KindCreate OperationKind = "create"
	KindUpdate OperationKind = "update"
	KindDelete OperationKind = "delete"
)

// ResponseParser turns one response, standalone or extracted from a composite
// graph, into a result. A non-2xx status yields *errors.OperationFailure; a body
// of the wrong shape yields an errors.ErrorTypeParse error.
type ResponseParser func(status int, body []byte) (RecordModificationResult, error)

// Operation is a single-record write together with the parser for its
// response.
type Operation struct {
	kind       OperationKind
	objectType string
	target     record.Value
	body       record.Record
	hasBody    bool
	parse      ResponseParser
}

// NewCreate describes creating rec.
func NewCreate(rec record.Record) (*Operation, error) {
	if rec.ObjectType() == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "create requires an object type")
	}
	return &Operation{
		kind:       KindCreate,
		objectType: rec.ObjectType(),
		body:       rec,
		hasBody:    true,
		parse:      parseCreateResponse,
	}, nil
}

// NewUpdate describes updating the record addressed by rec's Id field with
// the remaining fields. The Id may be a reference inside a unit of work.
func NewUpdate(rec record.Record) (*Operation, error) {
	target, err := targetOf(rec, KindUpdate)
	if err != nil {
		return nil, err
	}
	return &Operation{
		kind:       KindUpdate,
		objectType: rec.ObjectType(),
		target:     target,
		body:       rec.Without(record.IDField),
		hasBody:    true,
		parse:      noContentParser(target),
	}, nil
}

// NewDelete describes deleting the record addressed by rec's Id field.
func NewDelete(rec record.Record) (*Operation, error) {
	target, err := targetOf(rec, KindDelete)
	if err != nil {
		return nil, err
	}
	return newDelete(rec.ObjectType(), target), nil
}

// NewDeleteByID describes deleting objectType record id.
func NewDeleteByID(objectType, id string) (*Operation, error) {
	if objectType == "" || id == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "delete requires an object type and an id")
	}
	return newDelete(objectType, record.String(id)), nil
}

func newDelete(objectType string, target record.Value) *Operation {
	return &Operation{
		kind:       KindDelete,
		objectType: objectType,
		target:     target,
		parse:      noContentParser(target),
	}
}

func targetOf(rec record.Record, kind OperationKind) (record.Value, error) {
	if rec.ObjectType() == "" {
		return record.Value{}, errors.Newf(errors.ErrorTypeValidation, "%s requires an object type", kind)
	}
	target, ok := rec.Target()
	if !ok {
		return record.Value{}, errors.Newf(errors.ErrorTypeValidation, "%s of %s requires an %s field", kind, rec.ObjectType(), record.IDField)
	}
	if _, isRef := target.Reference(); isRef {
		return target, nil
	}
	if id, isString := target.AsString(); !isString || id == "" {
		return record.Value{}, errors.Newf(errors.ErrorTypeValidation, "%s of %s: %s must be a non-empty string or a reference", kind, rec.ObjectType(), record.IDField)
	}
	return target, nil
}

// Kind returns the write kind.
func (o *Operation) Kind() OperationKind { return o.kind }

// ObjectType returns the object type written.
func (o *Operation) ObjectType() string { return o.objectType }

// Method returns the HTTP method.
func (o *Operation) Method() string {
	switch o.kind {
	case KindCreate:
		return http.MethodPost
	case KindUpdate:
		return http.MethodPatch
	default:
		return http.MethodDelete
	}
}

// Path returns the data API path. A reference target renders as its
// placeholder.
func (o *Operation) Path() string {
	if o.kind == KindCreate {
		return SObjectPath(o.objectType)
	}
	return SObjectRecordPath(o.objectType, o.targetText())
}

func (o *Operation) targetText() string {
	if ref, ok := o.target.Reference(); ok {
		return ref.Placeholder()
	}
	id, _ := o.target.AsString()
	return id
}

// HasBody reports whether the request carries a JSON body.
func (o *Operation) HasBody() bool { return o.hasBody }

// Record returns the request body record.
func (o *Operation) Record() record.Record { return o.body }

// Body encodes the request body. References encode as placeholders.
func (o *Operation) Body() ([]byte, error) {
	if !o.hasBody {
		return nil, nil
	}
	out, err := json.Marshal(o.body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode "+o.objectType+" record")
	}
	return out, nil
}

// References lists every reference the operation depends on: its target and
// any reference-valued field.
func (o *Operation) References() []record.ReferenceID {
	var refs []record.ReferenceID
	if ref, ok := o.target.Reference(); ok {
		refs = append(refs, ref)
	}
	if o.hasBody {
		refs = append(refs, o.body.References()...)
	}
	return refs
}

// TargetReference returns the reference addressed by an update or delete.
func (o *Operation) TargetReference() (record.ReferenceID, bool) {
	return o.target.Reference()
}

// Parse interprets the response to this operation.
func (o *Operation) Parse(status int, body []byte) (RecordModificationResult, error) {
	return o.parse(status, body)
}

type saveResult struct {
	ID      string            `json:"id"`
	Success *bool             `json:"success"`
	Errors  []errors.APIError `json:"errors"`
}

func parseCreateResponse(status int, body []byte) (RecordModificationResult, error) {
	if !isSuccess(status) {
		return RecordModificationResult{}, NewFailure(status, "", body)
	}
	var res saveResult
	if err := json.Unmarshal(body, &res); err != nil {
		return RecordModificationResult{}, errors.Wrap(err, errors.ErrorTypeParse, "malformed create response")
	}
	if res.Success != nil && !*res.Success {
		return RecordModificationResult{}, &errors.OperationFailure{StatusCode: status, Errors: res.Errors}
	}
	if res.ID == "" {
		return RecordModificationResult{}, errors.New(errors.ErrorTypeParse, "create response carries no id")
	}
	return RecordModificationResult{ID: res.ID}, nil
}

// noContentParser handles update and delete, which answer 204 with no body.
// A string target is echoed back as the result id; a reference target leaves
// the id empty for the caller to resolve.
func noContentParser(target record.Value) ResponseParser {
	id, _ := target.AsString()
	return func(status int, body []byte) (RecordModificationResult, error) {
		if !isSuccess(status) {
			return RecordModificationResult{}, NewFailure(status, "", body)
		}
		return RecordModificationResult{ID: id}, nil
	}
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

// NewFailure builds the failure for a non-2xx response. statusText is used as
// the message when the body carries no structured errors.
func NewFailure(status int, statusText string, body []byte) *errors.OperationFailure {
	return &errors.OperationFailure{
		StatusCode: status,
		Errors:     ParseAPIErrors(status, statusText, body),
	}
}

// ParseAPIErrors decodes the error body of a rejected call. The API answers
// with an array of errors; a single object and an unstructured body are
// accepted too so that no rejection is ever lost.
func ParseAPIErrors(status int, statusText string, body []byte) []errors.APIError {
	trimmed := bytes.TrimSpace(body)

	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []errors.APIError
		if err := json.Unmarshal(trimmed, &list); err == nil && hasCodes(list) {
			return list
		}
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one errors.APIError
		if err := json.Unmarshal(trimmed, &one); err == nil && one.Code != "" {
			return []errors.APIError{one}
		}
	}

	message := strings.TrimSpace(strings.TrimPrefix(statusText, strconv.Itoa(status)))
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		message = string(trimmed)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return []errors.APIError{{Code: "HTTP_" + strconv.Itoa(status), Message: message}}
}

func hasCodes(list []errors.APIError) bool {
	if len(list) == 0 {
		return false
	}
	for _, e := range list {
		if e.Code == "" {
			return false
		}
	}
	return true
}
