package restapi

import (
	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/json"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// QueryResult is one page of query results. NextRecordsURL is the opaque
// cursor for QueryMore; it is empty once Done is true.
type QueryResult struct {
	TotalSize      int
	Done           bool
	NextRecordsURL string
	Records        []record.Record
}

type queryPage struct {
	TotalSize      int               `json:"totalSize"`
	Done           bool              `json:"done"`
	NextRecordsURL string            `json:"nextRecordsUrl"`
	Records        []json.RawMessage `json:"records"`
}

// ParseQueryResult decodes a query or queryMore response body.
func ParseQueryResult(body []byte) (*QueryResult, error) {
	var page queryPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "malformed query response")
	}

	result := &QueryResult{
		TotalSize:      page.TotalSize,
		Done:           page.Done,
		NextRecordsURL: page.NextRecordsURL,
		Records:        make([]record.Record, 0, len(page.Records)),
	}
	for i, raw := range page.Records {
		rec, err := record.FromJSON(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeParse, "malformed query record").
				WithDetail("index", i)
		}
		result.Records = append(result.Records, rec)
	}
	return result, nil
}
