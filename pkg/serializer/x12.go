package serializer

import (
	"fmt"
	"strings"
)

// X12Options configures ISA-envelope delimiter inference. Real X12
// interchanges declare their own delimiters positionally within the ISA
// segment, so these are fallbacks used only when no ISA segment is present.
type X12Options struct {
	ElementSeparator byte
	SegmentTerminator byte
	SubElementSeparator byte
}

// DefaultX12Options returns the delimiters most commonly seen on the wire.
func DefaultX12Options() X12Options {
	return X12Options{ElementSeparator: '*', SegmentTerminator: '~', SubElementSeparator: ':'}
}

// X12Serializer handles ANSI X12 EDI interchanges (spec.md §4.1: "X12.
// Delimiters inferred from the ISA segment; segments become elements,
// elements/sub-elements become nested fields").
//
// The ISA segment is fixed-width: ISA + element separator (byte 3), 16
// elements of fixed length, then the segment terminator at a position
// determined by walking those fixed widths — ISA*...*~ — with the
// sub-element separator carried in ISA16 (the last element before the
// terminator).
type X12Serializer struct {
	opts X12Options
}

// NewX12Serializer constructs the X12 serializer.
func NewX12Serializer(opts X12Options) *X12Serializer {
	return &X12Serializer{opts: opts}
}

const isaElementCount = 16

func (s *X12Serializer) detectDelimiters(text string) (X12Options, error) {
	if len(text) < 4 || text[:3] != "ISA" {
		return s.opts, &SerializationError{DataType: DataTypeX12, Reason: "message does not start with ISA segment"}
	}
	opts := s.opts
	opts.ElementSeparator = text[3]

	pos := 4
	for i := 0; i < isaElementCount-1; i++ {
		next := strings.IndexByte(text[pos:], opts.ElementSeparator)
		if next < 0 {
			return opts, &SerializationError{DataType: DataTypeX12, Offset: pos, Reason: "ISA segment truncated"}
		}
		pos += next + 1
	}
	// pos is now at ISA16: the one-byte sub-element separator, followed
	// directly by the segment terminator.
	if pos+1 >= len(text) {
		return opts, &SerializationError{DataType: DataTypeX12, Offset: pos, Reason: "ISA segment truncated"}
	}
	opts.SubElementSeparator = text[pos]
	opts.SegmentTerminator = text[pos+1]
	return opts, nil
}

// ToXML parses the interchange into <ISA>, <GS>, <ST>... segment elements
// under an <X12Interchange> root, each holding numbered element/sub-element
// fields analogous to the HL7 field/component tree.
func (s *X12Serializer) ToXML(raw []byte) (*CanonicalXML, error) {
	text := strings.TrimRight(string(raw), "\r\n")
	opts, err := s.detectDelimiters(text)
	if err != nil {
		return nil, err
	}

	root := NewNode("X12Interchange")
	root.SetAttr("elementSeparator", string(opts.ElementSeparator))
	root.SetAttr("subElementSeparator", string(opts.SubElementSeparator))
	root.SetAttr("segmentTerminator", string(opts.SegmentTerminator))

	segments := strings.Split(text, string(opts.SegmentTerminator))
	for _, seg := range segments {
		seg = strings.Trim(seg, "\r\n")
		if seg == "" {
			continue
		}
		elements := strings.Split(seg, string(opts.ElementSeparator))
		segID := elements[0]
		segNode := root.AddChild(segID)
		for i, el := range elements[1:] {
			elName := fmt.Sprintf("%s%02d", segID, i+1)
			if sub := strings.Split(el, string(opts.SubElementSeparator)); len(sub) > 1 {
				elNode := segNode.AddChild(elName)
				for si, subVal := range sub {
					elNode.AddChild(fmt.Sprintf("%s-%d", elName, si+1)).Text = subVal
				}
			} else {
				segNode.AddChild(elName).Text = el
			}
		}
	}
	return &CanonicalXML{Root: root}, nil
}

// FromXML reconstructs the interchange using the delimiters recorded on
// the root node.
func (s *X12Serializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	opts := s.opts
	if v, ok := doc.Root.Attr("elementSeparator"); ok && len(v) == 1 {
		opts.ElementSeparator = v[0]
	}
	if v, ok := doc.Root.Attr("subElementSeparator"); ok && len(v) == 1 {
		opts.SubElementSeparator = v[0]
	}
	if v, ok := doc.Root.Attr("segmentTerminator"); ok && len(v) == 1 {
		opts.SegmentTerminator = v[0]
	}

	var sb strings.Builder
	for _, segNode := range doc.Root.Children {
		sb.WriteString(segNode.Name)
		for _, el := range segNode.Children {
			sb.WriteByte(opts.ElementSeparator)
			if len(el.Children) > 0 {
				for si, sub := range el.Children {
					if si > 0 {
						sb.WriteByte(opts.SubElementSeparator)
					}
					sb.WriteString(sub.Text)
				}
			} else {
				sb.WriteString(el.Text)
			}
		}
		sb.WriteByte(opts.SegmentTerminator)
	}
	return []byte(sb.String()), nil
}

// IsSerializationRequired is true: segment/element access needs the parsed
// tree.
func (s *X12Serializer) IsSerializationRequired(toXML bool) bool { return true }

// TransformWithoutSerializing has no shortcut for X12.
func (s *X12Serializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData extracts the interchange sender/receiver and the
// transaction set control type from ISA and ST.
func (s *X12Serializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	doc, err := s.ToXML(raw)
	if err != nil {
		return err
	}
	if isa := doc.Root.Find("ISA"); isa != nil {
		if sender := isa.Find("ISA06"); sender != nil {
			meta[MetaSource] = strings.TrimSpace(sender.Text)
		}
	}
	if st := doc.Root.Find("ST"); st != nil {
		if typeCode := st.Find("ST01"); typeCode != nil {
			meta[MetaType] = typeCode.Text
		}
	}
	if gs := doc.Root.Find("GS"); gs != nil {
		if version := gs.Find("GS08"); version != nil {
			meta[MetaVersion] = version.Text
		}
	}
	return nil
}
