// Package csvbatch splits a record stream into CSV batches whose encoded size
// stays under a byte ceiling.
//
// Each batch is a standalone CSV document: a header naming the union of the
// batch's fields, sorted by lower-cased name, followed by one LF-terminated
// row per record. Records missing a field get an empty cell. Sizes are exact:
// Batch.Size equals the number of bytes Batch.WriteCSV produces.
//
// A record that does not fit in the current batch starts the next one. A
// record that does not fit even in an empty batch is emitted alone in a batch
// flagged Oversized.
package csvbatch

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"sort"
	"strings"

	"github.com/ajitpratap0/orbit/pkg/errors"
	"github.com/ajitpratap0/orbit/pkg/record"
)

// DefaultMaxBytes is the largest upload the bulk ingest API accepts.
const DefaultMaxBytes = 100 * 1000 * 1000

// DefaultNullText marks a field to be cleared by a bulk job.
const DefaultNullText = "#N/A"

// Batch is one immutable CSV-encoded slice of the input.
type Batch struct {
	// Index is the zero-based production position.
	Index int
	// Records are the exact input records, in input order.
	Records []record.Record
	// Header lists the column names in output order.
	Header []string
	// Size is the exact encoded size in bytes.
	Size int
	// Oversized is set when a single record exceeds the ceiling.
	Oversized bool

	rows []map[string]string
}

// Len returns the number of records.
func (b Batch) Len() int { return len(b.Records) }

// WriteCSV writes the batch as CSV and returns the bytes written.
func (b Batch) WriteCSV(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 64*1024)

	writeRow(bw, b.Header)
	keys := make([]string, len(b.Header))
	for i, name := range b.Header {
		keys[i] = strings.ToLower(name)
	}
	cells := make([]string, len(keys))
	for _, row := range b.rows {
		for i, key := range keys {
			cells[i] = row[key]
		}
		writeRow(bw, cells)
	}

	err := bw.Flush()
	return cw.n, err
}

// Bytes returns the encoded batch.
func (b Batch) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(b.Size)
	_, _ = b.WriteCSV(&buf)
	return buf.Bytes()
}

// Option configures a Batcher.
type Option func(*Batcher)

// WithNullText sets the cell text written for JSON null values.
func WithNullText(text string) Option {
	return func(b *Batcher) { b.nullText = text }
}

// Batcher splits record streams under a byte ceiling. It holds no state
// between calls to Batches and may be reused.
type Batcher struct {
	maxBytes int
	nullText string
}

// New creates a batcher with the given ceiling. A non-positive ceiling selects
// DefaultMaxBytes.
func New(maxBytes int, opts ...Option) *Batcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	b := &Batcher{maxBytes: maxBytes, nullText: DefaultNullText}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// MaxBytes returns the ceiling.
func (b *Batcher) MaxBytes() int { return b.maxBytes }

// Batches lazily batches src. The source is read forward only, in the
// goroutine ranging over the result. A source error, or a record that cannot
// be encoded, ends the sequence: records read before it are emitted first as
// a final batch, then the error is yielded with a zero Batch.
func (b *Batcher) Batches(src iter.Seq2[record.Record, error]) iter.Seq2[Batch, error] {
	return func(yield func(Batch, error) bool) {
		acc := newAccumulator()
		index := 0

		emit := func(oversized bool) bool {
			batch := acc.batch(index, oversized)
			index++
			acc = newAccumulator()
			return yield(batch, nil)
		}

		for rec, err := range src {
			if err == nil {
				var row encodedRow
				row, err = encodeRecord(rec, b.nullText)
				if err == nil {
					if acc.len() > 0 && acc.sizeWith(row) > b.maxBytes {
						if !emit(false) {
							return
						}
					}
					acc.add(rec, row)
					if acc.len() == 1 && acc.size() > b.maxBytes {
						if !emit(true) {
							return
						}
					}
					continue
				}
			}

			if acc.len() > 0 && !emit(false) {
				return
			}
			yield(Batch{}, err)
			return
		}

		if acc.len() > 0 {
			emit(false)
		}
	}
}

// encodedRow is one record rendered to cell text keyed by lower-cased name.
type encodedRow struct {
	names []string
	cells map[string]string
	bytes int
}

func encodeRecord(rec record.Record, nullText string) (encodedRow, error) {
	row := encodedRow{
		names: make([]string, 0, rec.Len()),
		cells: make(map[string]string, rec.Len()),
	}
	for name, value := range rec.All() {
		text, err := value.Text(nullText)
		if err != nil {
			return encodedRow{}, errors.Wrap(err, errors.ErrorTypeValidation,
				"field "+name+" of "+rec.ObjectType()+" record cannot be written to CSV")
		}
		key := strings.ToLower(name)
		row.names = append(row.names, name)
		row.cells[key] = text
		row.bytes += fieldSize(text)
	}
	return row, nil
}

// accumulator tracks the exact encoded size of the batch being built:
// header name bytes + cell bytes + one separator or newline per column on
// every line, header included.
type accumulator struct {
	records   []record.Record
	rows      []map[string]string
	columns   map[string]string
	nameBytes int
	cellBytes int
}

func newAccumulator() *accumulator {
	return &accumulator{columns: make(map[string]string)}
}

func (a *accumulator) len() int { return len(a.records) }

func (a *accumulator) size() int {
	return a.nameBytes + a.cellBytes + lineOverhead(len(a.records), len(a.columns))
}

// sizeWith returns the size the batch would have after adding row.
func (a *accumulator) sizeWith(row encodedRow) int {
	nameBytes := a.nameBytes
	columns := len(a.columns)
	for _, name := range row.names {
		if _, ok := a.columns[strings.ToLower(name)]; !ok {
			nameBytes += fieldSize(name)
			columns++
		}
	}
	return nameBytes + a.cellBytes + row.bytes + lineOverhead(len(a.records)+1, columns)
}

func (a *accumulator) add(rec record.Record, row encodedRow) {
	for _, name := range row.names {
		key := strings.ToLower(name)
		if _, ok := a.columns[key]; !ok {
			a.columns[key] = name
			a.nameBytes += fieldSize(name)
		}
	}
	a.cellBytes += row.bytes
	a.records = append(a.records, rec)
	a.rows = append(a.rows, row.cells)
}

func (a *accumulator) batch(index int, oversized bool) Batch {
	header := make([]string, 0, len(a.columns))
	for _, name := range a.columns {
		header = append(header, name)
	}
	sort.Slice(header, func(i, j int) bool {
		return strings.ToLower(header[i]) < strings.ToLower(header[j])
	})

	return Batch{
		Index:     index,
		Records:   a.records,
		Header:    header,
		Size:      a.size(),
		Oversized: oversized,
		rows:      a.rows,
	}
}

// lineOverhead counts the commas and newlines of the header and n rows.
// A line with no columns is a bare newline.
func lineOverhead(n, columns int) int {
	if columns == 0 {
		columns = 1
	}
	return (n + 1) * columns
}
