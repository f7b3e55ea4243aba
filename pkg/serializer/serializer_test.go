package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_HasAllDataTypes(t *testing.T) {
	r := NewRegistry()
	all := r.GetAll()
	for _, dt := range []DataType{
		DataTypeHL7V2, DataTypeHL7V3, DataTypeXML, DataTypeJSON, DataTypeRaw,
		DataTypeDelimited, DataTypeX12, DataTypeNCPDP, DataTypeDICOM,
	} {
		_, ok := all[dt]
		assert.True(t, ok, "expected serializer registered for %s", dt)
	}
}

func TestRegistry_GetUnknownDataType(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get(DataType("UNKNOWN"))
	assert.Error(t, err)
}

func TestRawSerializer_IsIdentity(t *testing.T) {
	s := NewRawSerializer()
	doc, err := s.ToXML([]byte("anything"))
	require.NoError(t, err)
	assert.Nil(t, doc)
	out, ok := s.TransformWithoutSerializing([]byte("anything"))
	require.True(t, ok)
	assert.Equal(t, "anything", string(out))
}

func TestJSONSerializer_RoundTrip(t *testing.T) {
	s := NewJSONSerializer()
	raw := []byte(`{"a":1,"b":"two"}`)
	doc, err := s.ToXML(raw)
	require.NoError(t, err)
	out, err := s.FromXML(doc)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestJSONSerializer_InvalidJSON(t *testing.T) {
	s := NewJSONSerializer()
	_, err := s.ToXML([]byte(`{not json`))
	assert.Error(t, err)
}

func TestXMLSerializer_StripsNamespace(t *testing.T) {
	s := NewXMLSerializer(true)
	doc, err := s.ToXML([]byte(`<ns:root xmlns:ns="urn:x"><ns:child>v</ns:child></ns:root>`))
	require.NoError(t, err)
	assert.Equal(t, "root", doc.Root.Name)
	assert.NotNil(t, doc.Root.Find("child"))
}

func TestDelimitedSerializer_RoundTrip(t *testing.T) {
	opts := DefaultDelimitedOptions()
	opts.ColumnNames = []string{"id", "name"}
	s := NewDelimitedSerializer(opts)
	raw := []byte("1,Doe\n2,\"Smith, Jr\"\n")
	doc, err := s.ToXML(raw)
	require.NoError(t, err)
	require.Len(t, doc.Root.Children, 2)
	assert.Equal(t, "Doe", doc.Root.Children[0].Find("name").Text)
	assert.Equal(t, "Smith, Jr", doc.Root.Children[1].Find("name").Text)

	out, err := s.FromXML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"Smith, Jr"`)
}

const sampleX12 = "ISA*00*          *00*          *ZZ*SENDER         *ZZ*RECEIVER       *260101*1200*U*00401*000000001*0*P*:~" +
	"GS*HC*SENDER*RECEIVER*20260101*1200*1*X*005010~" +
	"ST*837*0001~" +
	"SE*2*0001~" +
	"GE*1*1~" +
	"IEA*1*000000001~"

func TestX12Serializer_RoundTrip(t *testing.T) {
	s := NewX12Serializer(DefaultX12Options())
	doc, err := s.ToXML([]byte(sampleX12))
	require.NoError(t, err)
	st := doc.Root.Find("ST")
	require.NotNil(t, st)
	assert.Equal(t, "837", st.Find("ST01").Text)

	out, err := s.FromXML(doc)
	require.NoError(t, err)

	doc2, err := s.ToXML(out)
	require.NoError(t, err)
	assert.Equal(t, "837", doc2.Root.Find("ST").Find("ST01").Text)
}

func TestX12Serializer_PopulateMetaData(t *testing.T) {
	s := NewX12Serializer(DefaultX12Options())
	meta := map[string]string{}
	require.NoError(t, s.PopulateMetaData([]byte(sampleX12), meta))
	assert.Equal(t, "837", meta[MetaType])
	assert.Equal(t, "005010", meta[MetaVersion])
}

func TestNCPDPSerializer_RoundTrip(t *testing.T) {
	s := NewNCPDPSerializer(DefaultNCPDPOptions())
	raw := []byte("AM" +
		string(byte(0x1C)) + "01" + "D0" +
		string(byte(0x1C)) + "02" + "B1" +
		string(byte(0x1E)) +
		"B1" + string(byte(0x1C)) + "AM" + "01")
	doc, err := s.ToXML(raw)
	require.NoError(t, err)
	am := doc.Root.Find("AM")
	require.NotNil(t, am)

	out, err := s.FromXML(doc)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}

func TestDICOMSerializer_RejectsMissingPreamble(t *testing.T) {
	s := NewDICOMSerializer()
	_, err := s.ToXML([]byte("not a dicom file"))
	assert.Error(t, err)
}

func TestDICOMSerializer_RoundTripsOpaquePayload(t *testing.T) {
	s := NewDICOMSerializer()
	raw := make([]byte, 128+4+8)
	copy(raw[128:132], "DICM")
	doc, err := s.ToXML(raw)
	require.NoError(t, err)
	out, err := s.FromXML(doc)
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}
