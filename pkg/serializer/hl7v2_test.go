package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHL7V2 = "MSH|^~\\&|SND|FAC|RCV|FAC|20260101120000||ADT^A01|MSG00001|P|2.5\r" +
	"PID|1||12345^^^MRN||Doe^John^A||19800101|M\r"

func TestHL7V2_RoundTrip(t *testing.T) {
	s := NewHL7V2Serializer()
	doc, err := s.ToXML([]byte(sampleHL7V2))
	require.NoError(t, err)

	msh := doc.Root.Find("MSH")
	require.NotNil(t, msh)
	fs, ok := msh.Attr("fieldSeparator")
	require.True(t, ok)
	assert.Equal(t, "|", fs)

	src := msh.Find("MSH.3")
	require.NotNil(t, src)
	assert.Equal(t, "SND", src.Text)

	pid := doc.Root.Find("PID")
	require.NotNil(t, pid)
	name := pid.Find("PID.5")
	require.NotNil(t, name)
	comp1 := name.Find("PID.5.1")
	require.NotNil(t, comp1)
	assert.Equal(t, "Doe", comp1.Text)

	out, err := s.FromXML(doc)
	require.NoError(t, err)

	doc2, err := s.ToXML(out)
	require.NoError(t, err)
	pid2 := doc2.Root.Find("PID")
	require.NotNil(t, pid2)
	assert.Equal(t, "Doe", pid2.Find("PID.5").Find("PID.5.1").Text)
}

func TestHL7V2_MSHFieldsNotRenumbered(t *testing.T) {
	s := NewHL7V2Serializer()
	doc, err := s.ToXML([]byte(sampleHL7V2))
	require.NoError(t, err)
	msh := doc.Root.Find("MSH")
	assert.Nil(t, msh.Find("MSH.1"))
	assert.Nil(t, msh.Find("MSH.2"))
	assert.NotNil(t, msh.Find("MSH.3"))
}

func TestHL7V2_PopulateMetaData(t *testing.T) {
	s := NewHL7V2Serializer()
	meta := map[string]string{}
	require.NoError(t, s.PopulateMetaData([]byte(sampleHL7V2), meta))
	assert.Equal(t, "ADT", meta[MetaType])
	assert.Equal(t, "2.5", meta[MetaVersion])
	assert.Equal(t, "SND", meta[MetaSource])
}

func TestHL7V2_TrailingEmptyComponentsTrimmed(t *testing.T) {
	s := NewHL7V2Serializer()
	msg := "MSH|^~\\&|SND|FAC|RCV|FAC|20260101120000||ADT^A01|MSG00001|P|2.5\r" +
		"PID|1||12345^^^^\r"
	doc, err := s.ToXML([]byte(msg))
	require.NoError(t, err)
	out, err := s.FromXML(doc)
	require.NoError(t, err)
	assert.Contains(t, string(out), "12345\r")
}
