package record

import (
	"bytes"
	"fmt"

	"github.com/ajitpratap0/orbit/pkg/json"
)

// Marshaler is implemented by caller types that declare their own field
// layout instead of relying on struct tags or reflection.
type Marshaler interface {
	MarshalRecord(b *Builder) error
}

// Unmarshaler is implemented by caller types that read themselves back from a
// record, typically a query result.
type Unmarshaler interface {
	UnmarshalRecord(r Record) error
}

// Marshal builds a record of objectType from m's declared layout.
func Marshal(objectType string, m Marshaler) (Record, error) {
	b := NewBuilder(objectType)
	if err := m.MarshalRecord(b); err != nil {
		return Record{}, fmt.Errorf("marshal %s record: %w", objectType, err)
	}
	return b.Build(), nil
}

// Unmarshal populates u from r.
func Unmarshal(r Record, u Unmarshaler) error {
	if err := u.UnmarshalRecord(r); err != nil {
		return fmt.Errorf("unmarshal %s record: %w", r.ObjectType(), err)
	}
	return nil
}

// attributesKey carries the object type of records returned by the query API.
const attributesKey = "attributes"

// FromJSON decodes one query result object. The "attributes" member supplies
// the object type and is not kept as a field; field order follows the body.
func FromJSON(data []byte) (Record, error) {
	var attrs struct {
		Attributes struct {
			Type string `json:"type"`
		} `json:"attributes"`
	}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return Record{}, err
	}

	b := NewBuilder(attrs.Attributes.Type)
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return Record{}, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return Record{}, fmt.Errorf("record body is not a JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Record{}, err
		}
		name, ok := tok.(string)
		if !ok {
			return Record{}, fmt.Errorf("unexpected token %v", tok)
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return Record{}, err
		}
		if name == attributesKey {
			continue
		}
		b.Set(name, JSON(v))
	}
	return b.Build(), nil
}
