package serializer

import (
	"encoding/json"
	"fmt"
)

// JSONSerializer wraps a JSON document as a single canonical XML text node
// carrying the raw JSON string. Per spec.md §4.1 ("JSON has no structural
// change; metadata empty"), JSON round-trips byte-for-byte rather than
// being decomposed into an XML element tree — there's no cross-format
// structure to preserve, so the simplest faithful representation wins.
type JSONSerializer struct{}

// NewJSONSerializer constructs the JSON serializer.
func NewJSONSerializer() *JSONSerializer { return &JSONSerializer{} }

// ToXML validates the JSON and wraps it in a <json> canonical node.
func (s *JSONSerializer) ToXML(raw []byte) (*CanonicalXML, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &SerializationError{DataType: DataTypeJSON, Reason: err.Error()}
	}
	root := NewNode("json")
	root.Text = string(raw)
	return &CanonicalXML{Root: root}, nil
}

// FromXML returns the JSON text carried by the <json> node.
func (s *JSONSerializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	return []byte(doc.Root.Text), nil
}

// IsSerializationRequired is always false: JSON content can be manipulated
// as text without a full parse, in either direction.
func (s *JSONSerializer) IsSerializationRequired(toXML bool) bool { return false }

// TransformWithoutSerializing passes JSON through unchanged by default.
func (s *JSONSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return raw, true
}

// PopulateMetaData is a no-op for JSON (spec.md §4.1: "metadata empty").
func (s *JSONSerializer) PopulateMetaData(raw []byte, meta map[string]string) error { return nil }
