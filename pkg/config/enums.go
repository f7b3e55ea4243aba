package config

// TransportType identifies which wire transport backs a source or
// destination connector.
type TransportType string

const (
	// TransportMLLP frames messages with MLLP start/end bytes over a raw
	// TCP listener (source) or dial (destination).
	TransportMLLP TransportType = "mllp"
	// TransportHTTP exposes/consumes a plain HTTP endpoint.
	TransportHTTP TransportType = "http"
	// TransportGRPC calls/serves an external Web Service over gRPC unary
	// calls carrying structpb payloads.
	TransportGRPC TransportType = "grpc"
)

// IsValid reports whether t is one of the supported transport types.
func (t TransportType) IsValid() bool {
	switch t {
	case TransportMLLP, TransportHTTP, TransportGRPC:
		return true
	default:
		return false
	}
}

// ResponseAttribution selects which actor's output becomes the value
// handed back to the source's wire transport (spec.md §4.5).
type ResponseAttribution string

const (
	AttributionSource        ResponseAttribution = "SOURCE"
	AttributionDestination   ResponseAttribution = "DESTINATION"
	AttributionPostprocessor ResponseAttribution = "POSTPROCESSOR"
)

// IsValid reports whether a is a recognized response attribution.
func (a ResponseAttribution) IsValid() bool {
	switch a {
	case AttributionSource, AttributionDestination, AttributionPostprocessor:
		return true
	default:
		return false
	}
}

// ResponsePolicy mirrors pkg/aggregator.ResponsePolicy's string values so
// YAML can select it without this package importing pkg/aggregator.
type ResponsePolicy string

const (
	ResponsePolicyNever     ResponsePolicy = "never"
	ResponsePolicyAggregate ResponsePolicy = "aggregate"
)

// IsValid reports whether p is a recognized response policy.
func (p ResponsePolicy) IsValid() bool {
	return p == ResponsePolicyNever || p == ResponsePolicyAggregate
}

// SerializerType names one of the data-type serializers registered in
// pkg/serializer.Registry.
type SerializerType string

const (
	SerializerHL7V2     SerializerType = "HL7V2"
	SerializerHL7V3     SerializerType = "HL7V3"
	SerializerXML       SerializerType = "XML"
	SerializerJSON      SerializerType = "JSON"
	SerializerRaw       SerializerType = "RAW"
	SerializerDelimited SerializerType = "DELIMITED"
	SerializerX12       SerializerType = "X12"
	SerializerNCPDP     SerializerType = "NCPDP"
	SerializerDICOM     SerializerType = "DICOM"
)

// IsValid reports whether s names a serializer registered in
// pkg/serializer.Registry.
func (s SerializerType) IsValid() bool {
	switch s {
	case SerializerHL7V2, SerializerHL7V3, SerializerXML, SerializerJSON, SerializerRaw,
		SerializerDelimited, SerializerX12, SerializerNCPDP, SerializerDICOM:
		return true
	default:
		return false
	}
}
