package serializer

import (
	"fmt"
	"strings"
)

// NCPDP control character delimiters (spec.md §4.1: "NCPDP. Control-
// character delimited (0x1E segment, 0x1D group, 0x1C field); hex escapes
// in header fields").
const (
	ncpdpSegmentSeparator byte = 0x1E
	ncpdpGroupSeparator   byte = 0x1D
	ncpdpFieldSeparator   byte = 0x1C
)

// NCPDPOptions configures the NCPDP Telecommunication Standard serializer.
type NCPDPOptions struct {
	SegmentSeparator byte
	GroupSeparator   byte
	FieldSeparator   byte
}

// DefaultNCPDPOptions returns the standard NCPDP control-character set.
func DefaultNCPDPOptions() NCPDPOptions {
	return NCPDPOptions{SegmentSeparator: ncpdpSegmentSeparator, GroupSeparator: ncpdpGroupSeparator, FieldSeparator: ncpdpFieldSeparator}
}

// NCPDPSerializer handles the NCPDP Telecommunication Standard used for
// pharmacy claim transactions.
type NCPDPSerializer struct {
	opts NCPDPOptions
}

// NewNCPDPSerializer constructs the NCPDP serializer.
func NewNCPDPSerializer(opts NCPDPOptions) *NCPDPSerializer {
	return &NCPDPSerializer{opts: opts}
}

// ToXML splits the transaction into <segment> elements holding <field>
// children, with groups (repeating segment instances, e.g. multiple DUR
// occurrences) represented as repeated <group> siblings within a segment.
func (s *NCPDPSerializer) ToXML(raw []byte) (*CanonicalXML, error) {
	text := string(raw)
	root := NewNode("NCPDPMessage")

	segments := strings.Split(text, string(s.opts.SegmentSeparator))
	for _, seg := range segments {
		seg = strings.Trim(seg, "\r\n\x00")
		if seg == "" {
			continue
		}
		segID, body := splitNCPDPSegmentID(seg)
		segNode := root.AddChild(segID)

		groups := strings.Split(body, string(s.opts.GroupSeparator))
		for _, group := range groups {
			if group == "" {
				continue
			}
			groupNode := segNode.AddChild("group")
			fields := strings.Split(group, string(s.opts.FieldSeparator))
			for _, field := range fields {
				if len(field) < 2 {
					continue
				}
				fieldNode := groupNode.AddChild(field[:2])
				fieldNode.Text = unescapeNCPDPHex(field[2:])
			}
		}
	}
	return &CanonicalXML{Root: root}, nil
}

// splitNCPDPSegmentID extracts the 2-character segment identifier that
// leads the header segment, falling back to the whole token for segments
// without a field-style prefix.
func splitNCPDPSegmentID(seg string) (string, string) {
	if len(seg) >= 2 {
		return seg[:2], seg[2:]
	}
	return seg, ""
}

// FromXML rejoins segments, groups, and fields using the configured
// control-character delimiters.
func (s *NCPDPSerializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	var sb strings.Builder
	for si, segNode := range doc.Root.Children {
		if si > 0 {
			sb.WriteByte(s.opts.SegmentSeparator)
		}
		sb.WriteString(segNode.Name)
		for gi, groupNode := range segNode.Children {
			if gi > 0 {
				sb.WriteByte(s.opts.GroupSeparator)
			}
			for _, fieldNode := range groupNode.Children {
				sb.WriteByte(s.opts.FieldSeparator)
				sb.WriteString(fieldNode.Name)
				sb.WriteString(escapeNCPDPHex(fieldNode.Text))
			}
		}
	}
	return []byte(sb.String()), nil
}

// IsSerializationRequired is true: field access needs the parsed tree.
func (s *NCPDPSerializer) IsSerializationRequired(toXML bool) bool { return true }

// TransformWithoutSerializing has no shortcut for NCPDP.
func (s *NCPDPSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData extracts the transaction code (field "AM" by
// convention: BIN) and version/release fields from the header segment.
func (s *NCPDPSerializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	doc, err := s.ToXML(raw)
	if err != nil {
		return err
	}
	header := doc.Root.Find("AM")
	if header == nil && len(doc.Root.Children) > 0 {
		header = doc.Root.Children[0]
	}
	if header == nil {
		return nil
	}
	if v := header.Find("01"); v != nil {
		meta[MetaVersion] = v.Text
	}
	if v := header.Find("02"); v != nil {
		meta[MetaType] = v.Text
	}
	if v := header.Find("01"); v != nil {
		meta[MetaSource] = v.Text
	}
	return nil
}

// escapeNCPDPHex wraps any control byte reintroduced into field text as a
// hex escape (\xNN), the inverse of unescapeNCPDPHex.
func escapeNCPDPHex(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ncpdpSegmentSeparator || c == ncpdpGroupSeparator || c == ncpdpFieldSeparator {
			fmt.Fprintf(&sb, "\\x%02X", c)
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// unescapeNCPDPHex reverses \xNN escape sequences used to carry control
// characters inside NCPDP header fields.
func unescapeNCPDPHex(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			var b int
			if _, err := fmt.Sscanf(s[i+2:i+4], "%02X", &b); err == nil {
				sb.WriteByte(byte(b))
				i += 3
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
