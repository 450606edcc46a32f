// Package document defines the canonical schemaless document representation
// used by the store, the index structures, and the query engine.
package document

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/meridian-search/meridian/pkg/errors"
)

// IDAttribute is the attribute holding the application-supplied primary key.
const IDAttribute = "objectID"

// Document is a schemaless mapping from attribute name to a decoded JSON
// value: string, float64, bool, nil, []any, or map[string]any. The objectID
// attribute is always present and always a string after normalization.
type Document map[string]any

// ObjectID returns the document's primary key.
func (d Document) ObjectID() string {
	id, _ := d[IDAttribute].(string)
	return id
}

// FromRaw validates a decoded JSON object as a Document. The objectID may be
// supplied as a string or an integer; integers are normalized to their
// decimal string form so a key is always comparable as a string.
func FromRaw(raw map[string]any) (Document, error) {
	if raw == nil {
		return nil, errors.New(errors.ErrValidation, 400, "document body must be a JSON object")
	}
	idVal, ok := raw[IDAttribute]
	if !ok {
		return nil, errors.New(errors.ErrValidation, 400, "document is missing the objectID attribute")
	}
	id, err := normalizeID(idVal)
	if err != nil {
		return nil, err
	}
	doc := Document(raw)
	doc[IDAttribute] = id
	return doc, nil
}

// Parse decodes a JSON payload into a validated Document.
func Parse(data []byte) (Document, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Newf(errors.ErrValidation, 400, "invalid document JSON: %v", err)
	}
	return FromRaw(raw)
}

// Clone returns a deep copy of the document. Mutating the copy never affects
// a snapshot already visible to readers.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge returns a new document with the attributes of patch laid over d.
// The merge is shallow at the attribute level and the objectID of d wins.
func (d Document) Merge(patch Document) Document {
	out := d.Clone()
	for k, v := range patch {
		if k == IDAttribute {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// Number extracts attr as a float64, reporting whether the attribute exists
// and is numeric.
func (d Document) Number(attr string) (float64, bool) {
	return AsNumber(d[attr])
}

// AsNumber converts a decoded JSON value to float64 when it is numeric.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func normalizeID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", errors.New(errors.ErrValidation, 400, "objectID must not be empty")
		}
		return id, nil
	case float64:
		if id != math.Trunc(id) {
			return "", errors.New(errors.ErrValidation, 400, "objectID must be a string or an integer")
		}
		return strconv.FormatInt(int64(id), 10), nil
	case json.Number:
		if i, err := id.Int64(); err == nil {
			return strconv.FormatInt(i, 10), nil
		}
		return "", errors.New(errors.ErrValidation, 400, "objectID must be a string or an integer")
	default:
		return "", errors.Newf(errors.ErrValidation, 400, "objectID must be a string or an integer, got %T", v)
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// String implements fmt.Stringer for log output.
func (d Document) String() string {
	return fmt.Sprintf("document(%s)", d.ObjectID())
}
