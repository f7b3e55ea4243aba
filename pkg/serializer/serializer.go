package serializer

import (
	"fmt"
	"sync"
)

// DataType identifies one of the supported wire formats (spec.md §4.1).
type DataType string

// Supported data types.
const (
	DataTypeHL7V2     DataType = "HL7V2"
	DataTypeHL7V3     DataType = "HL7V3"
	DataTypeXML       DataType = "XML"
	DataTypeJSON      DataType = "JSON"
	DataTypeRaw       DataType = "RAW"
	DataTypeDelimited DataType = "DELIMITED"
	DataTypeX12       DataType = "X12"
	DataTypeNCPDP     DataType = "NCPDP"
	DataTypeDICOM     DataType = "DICOM"
)

// SerializationError reports a malformed-input failure during ToXML/FromXML,
// captured by the pipeline as a PROCESSING_ERROR content entry (spec.md §7).
type SerializationError struct {
	DataType DataType
	Offset   int
	Reason   string
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s serialization error at offset %d: %s", e.DataType, e.Offset, e.Reason)
}

// Serializer is the capability set every data-type implementation exposes
// (spec.md §4.1 and design note §9: "Data-type serializers expose the
// capability set {toCanonical, fromCanonical, isConversionRequired,
// extractMetadata}").
type Serializer interface {
	// ToXML converts wire-format bytes to the canonical representation.
	// RAW returns (nil, nil): identity, pass-through.
	ToXML(raw []byte) (*CanonicalXML, error)

	// FromXML converts the canonical representation back to wire bytes.
	FromXML(doc *CanonicalXML) ([]byte, error)

	// IsSerializationRequired reports whether the transform stage must
	// serialize to/from canonical XML, or whether a shortcut is available.
	IsSerializationRequired(toXML bool) bool

	// TransformWithoutSerializing is an optional shortcut: if ok is true,
	// out is the fully transformed wire payload and the canonical
	// round-trip was skipped entirely.
	TransformWithoutSerializing(raw []byte) (out []byte, ok bool)

	// PopulateMetaData extracts domain metadata (mirth_source, mirth_type,
	// mirth_version, plus type-specific keys) from raw wire bytes into meta.
	PopulateMetaData(raw []byte, meta map[string]string) error
}

// Metadata keys populated by PopulateMetaData, shared across data types.
const (
	MetaSource  = "mirth_source"
	MetaType    = "mirth_type"
	MetaVersion = "mirth_version"
)

// Registry holds the process-wide set of registered serializers, keyed by
// DataType. Mirrors the registry idiom used throughout the config package
// (private map + RWMutex, defensive copies on Get/GetAll) rather than an
// ambient singleton (spec.md design note on global mutable state).
type Registry struct {
	mu          sync.RWMutex
	serializers map[DataType]Serializer
}

// NewRegistry creates a Registry pre-populated with the built-in
// serializers for every data type named in spec.md §4.1.
func NewRegistry() *Registry {
	r := &Registry{serializers: make(map[DataType]Serializer)}
	r.Register(DataTypeHL7V2, NewHL7V2Serializer())
	r.Register(DataTypeHL7V3, NewHL7V3Serializer())
	r.Register(DataTypeXML, NewXMLSerializer(true))
	r.Register(DataTypeJSON, NewJSONSerializer())
	r.Register(DataTypeRaw, NewRawSerializer())
	r.Register(DataTypeDelimited, NewDelimitedSerializer(DefaultDelimitedOptions()))
	r.Register(DataTypeX12, NewX12Serializer(DefaultX12Options()))
	r.Register(DataTypeNCPDP, NewNCPDPSerializer(DefaultNCPDPOptions()))
	r.Register(DataTypeDICOM, NewDICOMSerializer())
	return r
}

// Register installs (or replaces) the serializer for a data type.
func (r *Registry) Register(t DataType, s Serializer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serializers[t] = s
}

// Get retrieves the serializer for a data type.
func (r *Registry) Get(t DataType) (Serializer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.serializers[t]
	if !ok {
		return nil, fmt.Errorf("no serializer registered for data type %s", t)
	}
	return s, nil
}

// GetAll returns a copy of the registered data-type set.
func (r *Registry) GetAll() map[DataType]Serializer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[DataType]Serializer, len(r.serializers))
	for k, v := range r.serializers {
		out[k] = v
	}
	return out
}
