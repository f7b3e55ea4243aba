package serializer

import (
	"fmt"
	"regexp"
)

// XMLSerializer handles the XML data type. Optionally strips namespace
// prefixes from element names (spec.md §4.1: "XML optionally strips
// namespaces").
type XMLSerializer struct {
	stripNamespaces bool
}

// NewXMLSerializer constructs the XML serializer.
func NewXMLSerializer(stripNamespaces bool) *XMLSerializer {
	return &XMLSerializer{stripNamespaces: stripNamespaces}
}

var nsPrefixPattern = regexp.MustCompile(`^[A-Za-z_][\w.-]*:`)

// ToXML parses the inbound XML; when stripNamespaces is set, namespace
// prefixes are removed from every element name.
func (s *XMLSerializer) ToXML(raw []byte) (*CanonicalXML, error) {
	doc, err := ParseCanonicalXML(raw)
	if err != nil {
		return nil, &SerializationError{DataType: DataTypeXML, Reason: err.Error()}
	}
	if s.stripNamespaces {
		stripNamespace(doc.Root)
	}
	return doc, nil
}

func stripNamespace(n *Node) {
	n.Name = nsPrefixPattern.ReplaceAllString(n.Name, "")
	for _, c := range n.Children {
		stripNamespace(c)
	}
}

// FromXML re-serializes the canonical tree.
func (s *XMLSerializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	return doc.Marshal()
}

// IsSerializationRequired is false: XML content is already the canonical
// form, so most transform stages can operate directly on it.
func (s *XMLSerializer) IsSerializationRequired(toXML bool) bool { return false }

// TransformWithoutSerializing is unavailable for XML — always (nil, false).
func (s *XMLSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData is empty for plain XML (spec.md §4.1).
func (s *XMLSerializer) PopulateMetaData(raw []byte, meta map[string]string) error { return nil }
