package config

// Shared types used across channel and data-type configuration structs.

import "time"

// TransportConfig binds one connector (source or destination) to the wire
// transport that carries it.
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// Address is the MLLP listen address (source) or dial address
	// (destination), or the gRPC dial target for a Web Service
	// destination / ScriptExecutor.
	Address string `yaml:"address,omitempty"`

	// Path and GinMode apply to TransportHTTP sources: the route the
	// gin.Engine mounts, and gin's run mode ("release", "debug", "test").
	Path    string `yaml:"path,omitempty"`
	GinMode string `yaml:"gin_mode,omitempty"`

	// Method is the gRPC method path a TransportGRPC destination invokes
	// (e.g. "/donkey.webservice.v1.Destination/Send").
	Method string `yaml:"method,omitempty"`

	// Timeout bounds one outbound send (HTTP client, gRPC dial+invoke).
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// ScriptConfig binds a connector's filter/transform hooks to scripts
// evaluated by an external pkg/script.Executor reached over gRPC. Empty
// Address disables scripting for that connector (filter/transform become
// no-ops).
type ScriptConfig struct {
	Address         string `yaml:"address,omitempty"`
	FilterScript    string `yaml:"filter_script,omitempty"`
	TransformScript string `yaml:"transform_script,omitempty"`
}

// DelimitedOptions mirrors pkg/serializer.DelimitedOptions with
// YAML-friendly single-character string fields in place of bytes.
type DelimitedOptions struct {
	ColumnDelimiter string   `yaml:"column_delimiter,omitempty" validate:"omitempty,len=1"`
	RowDelimiter    string   `yaml:"row_delimiter,omitempty" validate:"omitempty,len=1"`
	QuoteChar       string   `yaml:"quote_char,omitempty" validate:"omitempty,len=1"`
	ColumnNames     []string `yaml:"column_names,omitempty"`
	HeaderRow       bool     `yaml:"header_row,omitempty"`
}

// X12Options mirrors pkg/serializer.X12Options.
type X12Options struct {
	ElementSeparator    string `yaml:"element_separator,omitempty" validate:"omitempty,len=1"`
	SegmentTerminator   string `yaml:"segment_terminator,omitempty" validate:"omitempty,len=1"`
	SubElementSeparator string `yaml:"sub_element_separator,omitempty" validate:"omitempty,len=1"`
}

// NCPDPOptions mirrors pkg/serializer.NCPDPOptions.
type NCPDPOptions struct {
	SegmentSeparator string `yaml:"segment_separator,omitempty" validate:"omitempty,len=1"`
	GroupSeparator   string `yaml:"group_separator,omitempty" validate:"omitempty,len=1"`
	FieldSeparator   string `yaml:"field_separator,omitempty" validate:"omitempty,len=1"`
}
