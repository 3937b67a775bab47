// Package source adapts common record origins to the forward-only record
// streams consumed by bulk jobs.
package source

import (
	"encoding/csv"
	"errors"
	"io"
	"iter"

	orbiterrors "github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// Seq is a forward-only record stream. Iteration stops at the first error.
type Seq = iter.Seq2[record.Record, error]

// FromSlice streams records in order.
func FromSlice(records []record.Record) Seq {
	return func(yield func(record.Record, error) bool) {
		for _, r := range records {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// CSVOption configures FromCSV.
type CSVOption func(*csvOptions)

type csvOptions struct {
	nullText  string
	skipEmpty bool
	delimiter rune
}

// WithCSVNullText turns cells equal to text into null values.
func WithCSVNullText(text string) CSVOption {
	return func(o *csvOptions) { o.nullText = text }
}

// WithSkipEmpty leaves empty cells out of the record instead of setting an
// empty string.
func WithSkipEmpty() CSVOption {
	return func(o *csvOptions) { o.skipEmpty = true }
}

// WithDelimiter sets the field delimiter.
func WithDelimiter(r rune) CSVOption {
	return func(o *csvOptions) { o.delimiter = r }
}

// FromCSV streams the rows of a CSV document with a header line as records of
// objectType. Every cell becomes a string value.
func FromCSV(r io.Reader, objectType string, opts ...CSVOption) Seq {
	o := csvOptions{delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}

	return func(yield func(record.Record, error) bool) {
		reader := csv.NewReader(r)
		reader.Comma = o.delimiter
		reader.ReuseRecord = true

		header, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			yield(record.Record{}, orbiterrors.Wrap(err, orbiterrors.ErrorTypeParse, "failed to read CSV header"))
			return
		}
		header = append([]string(nil), header...)
		if len(header) > 0 {
			header[0] = trimBOM(header[0])
		}

		for {
			row, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(record.Record{}, orbiterrors.Wrap(err, orbiterrors.ErrorTypeParse, "failed to read CSV row"))
				return
			}

			b := record.NewBuilder(objectType)
			for i, cell := range row {
				switch {
				case o.nullText != "" && cell == o.nullText:
					b.Set(header[i], record.Null())
				case cell == "" && o.skipEmpty:
				default:
					b.Set(header[i], record.String(cell))
				}
			}
			if !yield(b.Build(), nil) {
				return
			}
		}
	}
}

func trimBOM(s string) string {
	const bom = "\ufeff"
	if len(s) >= len(bom) && s[:len(bom)] == bom {
		return s[len(bom):]
	}
	return s
}
