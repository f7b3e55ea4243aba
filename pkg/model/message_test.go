package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_SourceAlwaysPresent(t *testing.T) {
	m := NewMessage("chan-1", "server-1", 1, "Inbound MLLP")
	src := m.Source()
	require.NotNil(t, src)
	assert.Equal(t, SourceMetaDataID, src.MetaDataID)
	assert.Equal(t, StatusReceived, src.Status())
}

func TestMessage_AddDestination_RejectsMetaDataZero(t *testing.T) {
	m := NewMessage("chan-1", "server-1", 1, "Inbound MLLP")
	_, err := m.AddDestination(0, "File Writer")
	assert.Error(t, err)
}

func TestMessage_AddDestination_RejectsDuplicate(t *testing.T) {
	m := NewMessage("chan-1", "server-1", 1, "Inbound MLLP")
	_, err := m.AddDestination(1, "File Writer")
	require.NoError(t, err)
	_, err = m.AddDestination(1, "File Writer 2")
	assert.Error(t, err)
}

func TestMessage_AllTerminal(t *testing.T) {
	m := NewMessage("chan-1", "server-1", 1, "Inbound MLLP")
	dest, err := m.AddDestination(1, "File Writer")
	require.NoError(t, err)

	assert.False(t, m.AllTerminal())

	require.NoError(t, m.Source().SetStatus(StatusTransformed))
	require.NoError(t, dest.SetStatus(StatusTransformed))
	assert.False(t, m.AllTerminal())

	require.NoError(t, dest.SetStatus(StatusQueued))
	// QUEUED counts as terminal for postprocessing purposes (spec.md §4.6).
	assert.True(t, m.AllTerminal())
}

func TestConnectorMessage_ContentAppendOnly(t *testing.T) {
	cm := NewConnectorMessage(1, "chan-1", "server-1", 0, "Inbound MLLP")
	require.NoError(t, cm.AddContent(&MessageContent{ContentType: ContentRaw, Content: "MSH|..."}))
	err := cm.AddContent(&MessageContent{ContentType: ContentRaw, Content: "overwrite attempt"})
	assert.Error(t, err)
	assert.Equal(t, "MSH|...", cm.Content(ContentRaw).Content)
}

func TestConnectorMessage_SetStatus_TerminalNeverOverwritten(t *testing.T) {
	cm := NewConnectorMessage(1, "chan-1", "server-1", 1, "File Writer")
	require.NoError(t, cm.SetStatus(StatusTransformed))
	require.NoError(t, cm.SetStatus(StatusPending))
	require.NoError(t, cm.SetStatus(StatusSent))

	err := cm.SetStatus(StatusQueued)
	require.Error(t, err)
	var overwriteErr *ErrTerminalStatusOverwrite
	assert.ErrorAs(t, err, &overwriteErr)
	assert.Equal(t, StatusSent, cm.Status())
}

func TestConnectorMessage_SendAttempts_OnlyIncrementedExplicitly(t *testing.T) {
	cm := NewConnectorMessage(1, "chan-1", "server-1", 1, "File Writer")
	assert.Equal(t, 0, cm.SendAttempts())
	n := cm.IncrementSendAttempts()
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, cm.SendAttempts())
}

func TestSharedMaps_SourceMapWriteOnce(t *testing.T) {
	s := NewSharedMaps()
	require.NoError(t, s.SetSourceMap(map[string]any{"mrn": "12345"}))
	err := s.SetSourceMap(map[string]any{"mrn": "99999"})
	assert.Error(t, err)
	assert.Equal(t, "12345", s.SourceMap()["mrn"])
}

func TestSharedMaps_ChannelMapSharedAcrossConnectors(t *testing.T) {
	s := NewSharedMaps()
	s.ChannelMapSet("patientId", "abc")
	v, ok := s.ChannelMapGet("patientId")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}
