package serializer

// RawSerializer implements the identity pass-through data type (spec.md
// §4.1: "RAW. Identity; toXML/fromXML return null; no metadata.").
type RawSerializer struct{}

// NewRawSerializer constructs the RAW serializer.
func NewRawSerializer() *RawSerializer { return &RawSerializer{} }

// ToXML always returns (nil, nil) for RAW.
func (s *RawSerializer) ToXML(raw []byte) (*CanonicalXML, error) { return nil, nil }

// FromXML always returns (nil, nil) for RAW.
func (s *RawSerializer) FromXML(doc *CanonicalXML) ([]byte, error) { return nil, nil }

// IsSerializationRequired is always false for RAW.
func (s *RawSerializer) IsSerializationRequired(toXML bool) bool { return false }

// TransformWithoutSerializing passes the payload through unchanged.
func (s *RawSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return raw, true
}

// PopulateMetaData is a no-op for RAW.
func (s *RawSerializer) PopulateMetaData(raw []byte, meta map[string]string) error { return nil }
