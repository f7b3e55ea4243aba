package serializer

import (
	"fmt"
	"strings"
)

// HL7V2Serializer converts ER7-encoded HL7 v2 messages to/from canonical
// XML (spec.md §4.1).
//
// The field separator is detected from MSH.1 (the byte immediately after
// "MSH") and the encoding characters (component, repetition, escape,
// subcomponent, in that order) from MSH.2. MSH.1 and MSH.2 are implicit in
// ER7 output — they are never emitted as numbered MSH fields, only carried
// as attributes on the <MSH> canonical node, since they describe the
// message's own delimiter scheme rather than clinical data.
type HL7V2Serializer struct{}

// NewHL7V2Serializer constructs the HL7 v2 serializer.
func NewHL7V2Serializer() *HL7V2Serializer { return &HL7V2Serializer{} }

type hl7Delims struct {
	field        byte
	component    byte
	repetition   byte
	escape       byte
	subcomponent byte
}

func defaultHL7Delims() hl7Delims {
	return hl7Delims{field: '|', component: '^', repetition: '~', escape: '\\', subcomponent: '&'}
}

// ToXML parses an ER7 message into the canonical <HL7Message> tree.
func (s *HL7V2Serializer) ToXML(raw []byte) (*CanonicalXML, error) {
	text := normalizeSegmentTerminators(string(raw))
	if len(text) < 4 || text[:3] != "MSH" {
		return nil, &SerializationError{DataType: DataTypeHL7V2, Offset: 0, Reason: "message does not start with MSH segment"}
	}

	delims := defaultHL7Delims()
	delims.field = text[3]
	encEnd := strings.IndexByte(text[4:], delims.field)
	if encEnd < 0 {
		return nil, &SerializationError{DataType: DataTypeHL7V2, Offset: 4, Reason: "MSH.2 encoding characters not terminated"}
	}
	encodingChars := text[4 : 4+encEnd]
	if len(encodingChars) >= 4 {
		delims.component = encodingChars[0]
		delims.repetition = encodingChars[1]
		delims.escape = encodingChars[2]
		delims.subcomponent = encodingChars[3]
	}

	segments := strings.Split(text, "\r")
	root := NewNode("HL7Message")

	for i, segText := range segments {
		segText = strings.TrimRight(segText, "\n")
		if segText == "" {
			continue
		}
		if len(segText) < 3 {
			return nil, &SerializationError{DataType: DataTypeHL7V2, Offset: i, Reason: fmt.Sprintf("segment %q too short", segText)}
		}
		segID := segText[:3]
		segNode := root.AddChild(segID)

		var fieldsText string
		startFieldIdx := 1
		if segID == "MSH" {
			segNode.SetAttr("fieldSeparator", string(delims.field))
			segNode.SetAttr("encodingCharacters", encodingChars)
			// Fields begin after MSH + fieldSep + encodingChars + fieldSep.
			rest := segText[4+encEnd:]
			fieldsText = strings.TrimPrefix(rest, string(delims.field))
			startFieldIdx = 3
		} else {
			fieldsText = segText[4:]
		}

		fields := splitUnescaped(fieldsText, delims.field)
		for fi, fieldText := range fields {
			fieldName := fmt.Sprintf("%s.%d", segID, startFieldIdx+fi)
			appendField(segNode, fieldName, fieldText, delims)
		}
	}

	if len(root.Children) == 0 {
		return nil, &SerializationError{DataType: DataTypeHL7V2, Reason: "no segments parsed"}
	}
	return &CanonicalXML{Root: root}, nil
}

// appendField splits a field on the repetition separator (each repeat
// becomes a sibling node with the same name), then each repeat on the
// component and subcomponent separators.
func appendField(segNode *Node, fieldName, fieldText string, delims hl7Delims) {
	reps := splitUnescaped(fieldText, delims.repetition)
	for _, repText := range reps {
		fieldNode := segNode.AddChild(fieldName)
		comps := splitUnescaped(repText, delims.component)
		if len(comps) == 1 {
			fieldNode.Text = unescapeHL7(comps[0], delims)
			continue
		}
		for ci, compText := range comps {
			compName := fmt.Sprintf("%s.%d", fieldName, ci+1)
			subs := splitUnescaped(compText, delims.subcomponent)
			compNode := fieldNode.AddChild(compName)
			if len(subs) == 1 {
				compNode.Text = unescapeHL7(subs[0], delims)
				continue
			}
			for si, subText := range subs {
				subNode := compNode.AddChild(fmt.Sprintf("%s.%d", compName, si+1))
				subNode.Text = unescapeHL7(subText, delims)
			}
		}
	}
}

// FromXML reconstructs an ER7 message from the canonical tree, trimming
// trailing empty components/subcomponents before joining (spec.md §4.1).
func (s *HL7V2Serializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	delims := defaultHL7Delims()
	var sb strings.Builder

	for i, segNode := range doc.Root.Children {
		if i > 0 {
			sb.WriteString("\r")
		}
		if segNode.Name == "MSH" {
			if fs, ok := segNode.Attr("fieldSeparator"); ok && len(fs) == 1 {
				delims.field = fs[0]
			}
			enc, _ := segNode.Attr("encodingCharacters")
			if len(enc) >= 4 {
				delims.component, delims.repetition, delims.escape, delims.subcomponent = enc[0], enc[1], enc[2], enc[3]
			} else {
				enc = string([]byte{delims.component, delims.repetition, delims.escape, delims.subcomponent})
			}
			sb.WriteString("MSH")
			sb.WriteByte(delims.field)
			sb.WriteString(enc)
			sb.WriteByte(delims.field)
			writeFields(&sb, segNode, delims, 3)
			continue
		}
		sb.WriteString(segNode.Name)
		sb.WriteByte(delims.field)
		writeFields(&sb, segNode, delims, 1)
	}
	sb.WriteString("\r")
	return []byte(sb.String()), nil
}

func writeFields(sb *strings.Builder, segNode *Node, delims hl7Delims, startIdx int) {
	maxIdx := startIdx - 1
	byName := map[string][]*Node{}
	for _, f := range segNode.Children {
		byName[f.Name] = append(byName[f.Name], f)
		var idx int
		fmt.Sscanf(f.Name[strings.LastIndexByte(f.Name, '.')+1:], "%d", &idx)
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	for idx := startIdx; idx <= maxIdx; idx++ {
		if idx > startIdx {
			sb.WriteByte(delims.field)
		}
		fieldName := fmt.Sprintf("%s.%d", segNode.Name, idx)
		reps := byName[fieldName]
		for ri, rep := range reps {
			if ri > 0 {
				sb.WriteByte(delims.repetition)
			}
			writeFieldValue(sb, rep, delims)
		}
	}
}

func writeFieldValue(sb *strings.Builder, fieldNode *Node, delims hl7Delims) {
	if len(fieldNode.Children) == 0 {
		sb.WriteString(escapeHL7(fieldNode.Text, delims))
		return
	}
	comps := trimTrailingEmpty(fieldNode.Children)
	for ci, comp := range comps {
		if ci > 0 {
			sb.WriteByte(delims.component)
		}
		if len(comp.Children) == 0 {
			sb.WriteString(escapeHL7(comp.Text, delims))
			continue
		}
		subs := trimTrailingEmpty(comp.Children)
		for si, sub := range subs {
			if si > 0 {
				sb.WriteByte(delims.subcomponent)
			}
			sb.WriteString(escapeHL7(sub.Text, delims))
		}
	}
}

// trimTrailingEmpty drops trailing nodes with empty text and no children,
// implementing "trailing empty components/subcomponents are trimmed before
// join" (spec.md §4.1).
func trimTrailingEmpty(nodes []*Node) []*Node {
	end := len(nodes)
	for end > 1 && nodes[end-1].Text == "" && len(nodes[end-1].Children) == 0 {
		end--
	}
	return nodes[:end]
}

// IsSerializationRequired is true: transformers commonly need the parsed
// segment/field structure, not just raw text.
func (s *HL7V2Serializer) IsSerializationRequired(toXML bool) bool { return true }

// TransformWithoutSerializing has no shortcut for HL7 v2.
func (s *HL7V2Serializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return nil, false
}

// PopulateMetaData extracts type=MSH.9.1, version=MSH.12, source=MSH.3
// (spec.md §4.1).
func (s *HL7V2Serializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	doc, err := s.ToXML(raw)
	if err != nil {
		return err
	}
	msh := doc.Root.Find("MSH")
	if msh == nil {
		return &SerializationError{DataType: DataTypeHL7V2, Reason: "no MSH segment for metadata extraction"}
	}
	if f := findField(msh, "MSH.9"); f != nil {
		meta[MetaType] = firstComponentText(f)
	}
	if f := findField(msh, "MSH.12"); f != nil {
		meta[MetaVersion] = fieldText(f)
	}
	if f := findField(msh, "MSH.3"); f != nil {
		meta[MetaSource] = fieldText(f)
	}
	return nil
}

func findField(segNode *Node, name string) *Node {
	return segNode.Find(name)
}

func firstComponentText(fieldNode *Node) string {
	if len(fieldNode.Children) == 0 {
		return fieldNode.Text
	}
	return fieldNode.Children[0].Text
}

func fieldText(fieldNode *Node) string {
	if len(fieldNode.Children) == 0 {
		return fieldNode.Text
	}
	var parts []string
	for _, c := range fieldNode.Children {
		parts = append(parts, c.Text)
	}
	return strings.Join(parts, "^")
}

// normalizeSegmentTerminators converts bare \n segment terminators (common
// from test fixtures and some lenient senders) to the HL7-standard \r.
func normalizeSegmentTerminators(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\r")
	s = strings.ReplaceAll(s, "\n", "\r")
	return strings.TrimRight(s, "\r")
}

// splitUnescaped splits on sep, but does not split on an occurrence that was
// escaped with the HL7 escape character (\X\ sequences pass through whole).
func splitUnescaped(s string, sep byte) []string {
	var out []string
	var cur strings.Builder
	inEscape := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' {
			inEscape = !inEscape
			cur.WriteByte(c)
			continue
		}
		if c == sep && !inEscape {
			out = append(out, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	out = append(out, cur.String())
	return out
}

// escapeHL7 reverses unescapeHL7: characters that collide with an active
// delimiter are replaced by the standard \F\, \S\, \R\, \T\ and \E\ escape
// sequences. Text
// produced purely by round-tripping parsed fields needs no additional
// escaping since delimiters were already split out structurally; this
// handles the case where a script has reintroduced a literal delimiter
// character into field text.
func escapeHL7(s string, delims hl7Delims) string {
	replacer := strings.NewReplacer(
		string(delims.escape), `\E\`,
		string(delims.field), `\F\`,
		string(delims.component), `\S\`,
		string(delims.repetition), `\R\`,
		string(delims.subcomponent), `\T\`,
	)
	return replacer.Replace(s)
}

// unescapeHL7 reverses the standard HL7 escape sequences.
func unescapeHL7(s string, delims hl7Delims) string {
	replacer := strings.NewReplacer(
		`\F\`, string(delims.field),
		`\S\`, string(delims.component),
		`\R\`, string(delims.repetition),
		`\T\`, string(delims.subcomponent),
		`\E\`, string(delims.escape),
	)
	return replacer.Replace(s)
}
