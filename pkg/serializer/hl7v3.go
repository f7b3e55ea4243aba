package serializer

// HL7V3Serializer handles the XML-native HL7 v3 data type. HL7 v3 messages
// are already XML on the wire, so serialization reduces to namespace
// handling plus extracting the interactionId/typeId metadata that HL7v2
// derives from MSH (spec.md §4.1: "HL7V3. XML-based; metadata from
// interactionId/typeId").
type HL7V3Serializer struct {
	xml *XMLSerializer
}

// NewHL7V3Serializer constructs the HL7 v3 serializer.
func NewHL7V3Serializer() *HL7V3Serializer {
	return &HL7V3Serializer{xml: NewXMLSerializer(false)}
}

// ToXML parses the wire XML into the canonical tree without namespace
// stripping — HL7 v3 element semantics depend on the HL7 namespace.
func (s *HL7V3Serializer) ToXML(raw []byte) (*CanonicalXML, error) {
	doc, err := s.xml.ToXML(raw)
	if err != nil {
		return nil, &SerializationError{DataType: DataTypeHL7V3, Reason: err.Error()}
	}
	return doc, nil
}

// FromXML re-serializes the canonical tree as wire XML.
func (s *HL7V3Serializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	return s.xml.FromXML(doc)
}

// IsSerializationRequired mirrors plain XML: no conversion needed to
// operate on the canonical form directly.
func (s *HL7V3Serializer) IsSerializationRequired(toXML bool) bool { return false }

// TransformWithoutSerializing is unavailable for HL7 v3.
func (s *HL7V3Serializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData extracts type from interactionId and version from
// typeId, matching the HL7v2 MSH.9/MSH.12 mapping but read from HL7 v3's
// XML attributes instead of ER7 fields.
func (s *HL7V3Serializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	doc, err := s.ToXML(raw)
	if err != nil {
		return err
	}
	if n := doc.Root.Find("interactionId"); n != nil {
		if v, ok := n.Attr("extension"); ok {
			meta[MetaType] = v
		} else {
			meta[MetaType] = n.Text
		}
	}
	if n := doc.Root.Find("typeId"); n != nil {
		if v, ok := n.Attr("extension"); ok {
			meta[MetaVersion] = v
		} else {
			meta[MetaVersion] = n.Text
		}
	}
	if n := doc.Root.Find("sender"); n != nil {
		meta[MetaSource] = n.Text
	}
	return nil
}
