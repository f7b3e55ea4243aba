package serializer

import (
	"fmt"
	"strings"
)

// DelimitedOptions configures the character-delimited (flat-file) data type:
// column delimiter, row delimiter, quote character, and an optional column
// name list used to label fields in the canonical tree (spec.md §4.1:
// "DELIMITED. Configurable column/row delimiters and quote character;
// columns named from a header row or a configured list").
type DelimitedOptions struct {
	ColumnDelimiter byte
	RowDelimiter    byte
	QuoteChar       byte
	ColumnNames     []string
	HeaderRow       bool
}

// DefaultDelimitedOptions returns comma-separated, newline-terminated,
// double-quoted defaults with no header row.
func DefaultDelimitedOptions() DelimitedOptions {
	return DelimitedOptions{ColumnDelimiter: ',', RowDelimiter: '\n', QuoteChar: '"'}
}

// DelimitedSerializer handles flat-file/CSV-style content.
type DelimitedSerializer struct {
	opts DelimitedOptions
}

// NewDelimitedSerializer constructs the serializer with the given options.
func NewDelimitedSerializer(opts DelimitedOptions) *DelimitedSerializer {
	return &DelimitedSerializer{opts: opts}
}

// ToXML splits the payload into <row><ColumnN>...</ColumnN></row> elements
// under a <DelimitedMessage> root.
func (s *DelimitedSerializer) ToXML(raw []byte) (*CanonicalXML, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", string(s.opts.RowDelimiter))
	rows := splitRows(text, s.opts.RowDelimiter)
	root := NewNode("DelimitedMessage")

	names := s.opts.ColumnNames
	startRow := 0
	if s.opts.HeaderRow && len(rows) > 0 {
		names = parseDelimitedRow(rows[0], s.opts)
		startRow = 1
	}

	for _, row := range rows[startRow:] {
		if row == "" {
			continue
		}
		cols := parseDelimitedRow(row, s.opts)
		rowNode := root.AddChild("row")
		for i, val := range cols {
			colName := columnName(names, i)
			rowNode.AddChild(colName).Text = val
		}
	}
	return &CanonicalXML{Root: root}, nil
}

// FromXML rejoins rows and columns using the configured delimiters,
// quoting any field that itself contains a delimiter or quote character.
func (s *DelimitedSerializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	var sb strings.Builder
	for ri, row := range doc.Root.Children {
		if ri > 0 {
			sb.WriteByte(s.opts.RowDelimiter)
		}
		for ci, col := range row.Children {
			if ci > 0 {
				sb.WriteByte(s.opts.ColumnDelimiter)
			}
			sb.WriteString(quoteDelimitedField(col.Text, s.opts))
		}
	}
	return []byte(sb.String()), nil
}

// IsSerializationRequired is true: column access needs the parsed tree.
func (s *DelimitedSerializer) IsSerializationRequired(toXML bool) bool { return true }

// TransformWithoutSerializing has no shortcut for delimited content.
func (s *DelimitedSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData is empty; delimited content carries no standard header
// fields to promote to metadata.
func (s *DelimitedSerializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	return nil
}

func columnName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("Column%d", i+1)
}

func splitRows(text string, rowDelim byte) []string {
	return strings.Split(strings.TrimRight(text, string(rowDelim)), string(rowDelim))
}

// parseDelimitedRow splits a row on the column delimiter, honoring a quote
// character that may itself contain delimiter bytes.
func parseDelimitedRow(row string, opts DelimitedOptions) []string {
	var out []string
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(row); i++ {
		c := row[i]
		switch {
		case c == opts.QuoteChar:
			if inQuote && i+1 < len(row) && row[i+1] == opts.QuoteChar {
				cur.WriteByte(opts.QuoteChar)
				i++
				continue
			}
			inQuote = !inQuote
		case c == opts.ColumnDelimiter && !inQuote:
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	out = append(out, cur.String())
	return out
}

func quoteDelimitedField(val string, opts DelimitedOptions) string {
	needsQuote := strings.IndexByte(val, opts.ColumnDelimiter) >= 0 ||
		strings.IndexByte(val, opts.QuoteChar) >= 0 ||
		strings.IndexByte(val, opts.RowDelimiter) >= 0
	if !needsQuote {
		return val
	}
	q := string(opts.QuoteChar)
	escaped := strings.ReplaceAll(val, q, q+q)
	return q + escaped + q
}
