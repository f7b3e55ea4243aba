package serializer

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// DICOM well-known tag group/element pairs used for metadata extraction
// (spec.md §4.1: "DICOM. Binary; base64 in canonical form; metadata from
// well-known tags").
const (
	dicomTagSOPClassUID    uint32 = 0x00080016
	dicomTagTransferSyntax uint32 = 0x00020010
	dicomTagPatientID      uint32 = 0x00100020
)

// DICOMSerializer carries DICOM Part 10 files as base64 inside the
// canonical tree — unlike the textual formats, DICOM's binary pixel data
// has no useful XML decomposition, so the pipeline treats it as an opaque
// payload plus extracted header metadata.
type DICOMSerializer struct{}

// NewDICOMSerializer constructs the DICOM serializer.
func NewDICOMSerializer() *DICOMSerializer { return &DICOMSerializer{} }

const dicomPreambleLen = 128

// ToXML validates the 128-byte preamble + "DICM" magic and wraps the
// entire file as base64 text under a <DICOMMessage> root.
func (s *DICOMSerializer) ToXML(raw []byte) (*CanonicalXML, error) {
	if len(raw) < dicomPreambleLen+4 || string(raw[dicomPreambleLen:dicomPreambleLen+4]) != "DICM" {
		return nil, &SerializationError{DataType: DataTypeDICOM, Reason: "missing 128-byte preamble / DICM magic"}
	}
	root := NewNode("DICOMMessage")
	root.Text = base64.StdEncoding.EncodeToString(raw)
	return &CanonicalXML{Root: root}, nil
}

// FromXML decodes the base64 payload back to the original binary file.
func (s *DICOMSerializer) FromXML(doc *CanonicalXML) ([]byte, error) {
	if doc == nil || doc.Root == nil {
		return nil, fmt.Errorf("nil canonical document")
	}
	return base64.StdEncoding.DecodeString(doc.Root.Text)
}

// IsSerializationRequired is false: DICOM payloads are opaque to
// transform stages, which operate on the metadata map rather than content.
func (s *DICOMSerializer) IsSerializationRequired(toXML bool) bool { return false }

// TransformWithoutSerializing passes DICOM content through unchanged.
func (s *DICOMSerializer) TransformWithoutSerializing(raw []byte) ([]byte, bool) {
	return raw, true
}

// PopulateMetaData scans the Explicit VR Little Endian data set for the
// well-known tags listed above. Implicit VR and Big Endian transfer
// syntaxes are out of scope; unrecognized encodings yield an empty (but
// non-error) metadata set, matching the tolerant-by-default posture of the
// other serializers.
func (s *DICOMSerializer) PopulateMetaData(raw []byte, meta map[string]string) error {
	if len(raw) < dicomPreambleLen+4 {
		return &SerializationError{DataType: DataTypeDICOM, Reason: "file too short for DICOM preamble"}
	}
	data := raw[dicomPreambleLen+4:]
	offset := 0
	for offset+8 <= len(data) {
		group := binary.LittleEndian.Uint16(data[offset : offset+2])
		element := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		tag := uint32(group)<<16 | uint32(element)
		vr := string(data[offset+4 : offset+6])

		var length uint32
		var valueOffset int
		if isLongFormVR(vr) {
			if offset+12 > len(data) {
				break
			}
			length = binary.LittleEndian.Uint32(data[offset+8 : offset+12])
			valueOffset = offset + 12
		} else {
			if offset+8 > len(data) {
				break
			}
			length = uint32(binary.LittleEndian.Uint16(data[offset+6 : offset+8]))
			valueOffset = offset + 8
		}
		if valueOffset+int(length) > len(data) {
			break
		}
		value := trimDICOMPadding(string(data[valueOffset : valueOffset+int(length)]))

		switch tag {
		case dicomTagSOPClassUID:
			meta[MetaType] = value
		case dicomTagTransferSyntax:
			meta[MetaVersion] = value
		case dicomTagPatientID:
			meta[MetaSource] = value
		}
		offset = valueOffset + int(length)
	}
	return nil
}

// isLongFormVR reports whether a value representation uses the 4-byte
// reserved+length header (OB, OW, OF, SQ, UT, UN) instead of the 2-byte
// short form.
func isLongFormVR(vr string) bool {
	switch vr {
	case "OB", "OW", "OF", "SQ", "UT", "UN":
		return true
	default:
		return false
	}
}

func trimDICOMPadding(s string) string {
	for len(s) > 0 && (s[len(s)-1] == 0x00 || s[len(s)-1] == ' ') {
		s = s[:len(s)-1]
	}
	return s
}
