package model

// ContentType is one of the closed set of per-stage content versions a
// ConnectorMessage accumulates as it moves through the pipeline (spec.md §3).
type ContentType string

// The closed set of content types.
const (
	ContentRaw                 ContentType = "RAW"
	ContentProcessedRaw        ContentType = "PROCESSED_RAW"
	ContentTransformed         ContentType = "TRANSFORMED"
	ContentEncoded             ContentType = "ENCODED"
	ContentSent                ContentType = "SENT"
	ContentResponse            ContentType = "RESPONSE"
	ContentProcessedResponse   ContentType = "PROCESSED_RESPONSE"
	ContentResponseTransformed ContentType = "RESPONSE_TRANSFORMED"
	ContentSourceMap           ContentType = "SOURCE_MAP"
	ContentChannelMap          ContentType = "CHANNEL_MAP"
	ContentConnectorMap        ContentType = "CONNECTOR_MAP"
	ContentResponseMap         ContentType = "RESPONSE_MAP"
	ContentProcessingError     ContentType = "PROCESSING_ERROR"
	ContentResponseError       ContentType = "RESPONSE_ERROR"
	ContentPostprocessorError  ContentType = "POSTPROCESSOR_ERROR"
)

// MessageContent is one (contentType, content) pair attached to a
// ConnectorMessage. Content entries are append-only per stage: once a given
// contentType is written for a ConnectorMessage it is never rewritten.
type MessageContent struct {
	ContentType ContentType
	Content     string
	DataType    string
	Encrypted   bool
}
