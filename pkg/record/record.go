// Package record provides the immutable record value type shared by the
// composite graph and bulk ingest engines.
//
// A Record is an ordered map of field names to tagged values plus an object
// type. Field names are case-insensitive keys: writing "name" after "Name"
// replaces the entry in place, keeping its position and adopting the newer
// casing. Records are built once with a Builder and never change afterwards, so
// they can be shared freely between goroutines and batches.
//
//	rec := record.NewBuilder("Movie").
//	    Set("Name", record.String("Dune")).
//	    Set("Franchise__c", record.Ref(franchiseRef)).
//	    Build()
package record

import (
	"bytes"
	"iter"
	"sort"
	"strings"

	"github.com/ajitpratap0/orbit/pkg/json"
)

// IDField is the field holding a record's remote id.
const IDField = "Id"

// Field is one named value of a record.
type Field struct {
	Name  string
	Value Value
}

// Record is an immutable, ordered, case-insensitive field map.
type Record struct {
	objectType string
	fields     []Field
	index      map[string]int
}

// ObjectType returns the remote object type, e.g. "Account".
func (r Record) ObjectType() string { return r.objectType }

// Len returns the number of fields.
func (r Record) Len() int { return len(r.fields) }

// Get looks a field up case-insensitively.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// Has reports whether the record carries name.
func (r Record) Has(name string) bool {
	_, ok := r.index[strings.ToLower(name)]
	return ok
}

// All iterates fields in insertion order using their stored casing.
func (r Record) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for _, f := range r.fields {
			if !yield(f.Name, f.Value) {
				return
			}
		}
	}
}

// Fields returns a copy of the fields in insertion order.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Names returns the stored field names in insertion order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// SortedNames returns the stored field names ordered by their lower-cased form.
func (r Record) SortedNames() []string {
	names := r.Names()
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names
}

// ID returns the record's remote id when it is a plain string.
func (r Record) ID() (string, bool) {
	v, ok := r.Get(IDField)
	if !ok {
		return "", false
	}
	return v.AsString()
}

// Target returns the Id value used to address the record for update and
// delete; it is either a string or a reference.
func (r Record) Target() (Value, bool) {
	return r.Get(IDField)
}

// Without returns a copy of the record minus the named field.
func (r Record) Without(name string) Record {
	i, ok := r.index[strings.ToLower(name)]
	if !ok {
		return r
	}
	b := NewBuilder(r.objectType)
	for j, f := range r.fields {
		if j != i {
			b.Set(f.Name, f.Value)
		}
	}
	return b.Build()
}

// References returns every reference carried by the record's values.
func (r Record) References() []ReferenceID {
	var refs []ReferenceID
	for _, f := range r.fields {
		if id, ok := f.Value.Reference(); ok {
			refs = append(refs, id)
		}
	}
	return refs
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (r Record) MarshalJSON() ([]byte, error) {
	buf := json.GetBuffer()
	defer json.PutBuffer(buf)

	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return bytes.Clone(buf.Bytes()), nil
}

// Equal reports whether two records have the same type and fields in the same order.
func (r Record) Equal(o Record) bool {
	if r.objectType != o.objectType || len(r.fields) != len(o.fields) {
		return false
	}
	for i := range r.fields {
		if r.fields[i].Name != o.fields[i].Name || !r.fields[i].Value.Equal(o.fields[i].Value) {
			return false
		}
	}
	return true
}

// Builder accumulates fields for a new Record.
type Builder struct {
	objectType string
	fields     []Field
	index      map[string]int
}

// NewBuilder starts a record of the given object type.
func NewBuilder(objectType string) *Builder {
	return &Builder{
		objectType: objectType,
		index:      make(map[string]int),
	}
}

// Set stores a field. A case-variant of an existing name replaces that entry.
func (b *Builder) Set(name string, v Value) *Builder {
	key := strings.ToLower(name)
	if i, ok := b.index[key]; ok {
		b.fields[i] = Field{Name: name, Value: v}
		return b
	}
	b.index[key] = len(b.fields)
	b.fields = append(b.fields, Field{Name: name, Value: v})
	return b
}

// Build returns the immutable record. The builder may keep being used; later
// calls do not affect records already built.
func (b *Builder) Build() Record {
	fields := append([]Field(nil), b.fields...)
	index := make(map[string]int, len(b.index))
	for k, v := range b.index {
		index[k] = v
	}
	return Record{objectType: b.objectType, fields: fields, index: index}
}
