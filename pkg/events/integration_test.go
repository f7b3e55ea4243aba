package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/codeready-toolchain/donkey/pkg/database"
	"github.com/codeready-toolchain/donkey/pkg/stats"
	testdb "github.com/codeready-toolchain/donkey/test/database"
	"github.com/codeready-toolchain/donkey/test/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamingTestEnv holds all wired-up components for an integration test.
type streamingTestEnv struct {
	dbClient  *database.Client
	publisher *EventPublisher
	manager   *ConnectionManager
	listener  *NotifyListener
	server    *httptest.Server
	channelID string // connector-engine channel id, e.g. "lab-results"
	channel   Topic  // PG NOTIFY / websocket topic: ChannelTopic(channelID)
}

// setupStreamingTest wires all real components together against a real
// PostgreSQL database (testcontainers locally, service container in CI).
func setupStreamingTest(t *testing.T) *streamingTestEnv {
	t.Helper()

	dbClient := testdb.NewTestClient(t)

	channelID := "lab-results"
	channel := ChannelTopic(channelID)

	publisher := NewEventPublisher(dbClient.DB())
	catchupQuerier := NewStoreCatchupAdapter(dbClient.Store)
	manager := NewConnectionManager(catchupQuerier, 5*time.Second)

	// NotifyListener needs the base connection string (no schema search_path)
	// because NOTIFY/LISTEN is database-level, not schema-level.
	baseConnStr := util.GetBaseConnectionString(t)
	listener := NewNotifyListener(baseConnStr, manager)
	require.NoError(t, listener.Start(context.Background()))
	manager.SetListener(listener)

	t.Cleanup(func() { listener.Stop(context.Background()) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(func() { server.Close() })

	return &streamingTestEnv{
		dbClient:  dbClient,
		publisher: publisher,
		manager:   manager,
		listener:  listener,
		server:    server,
		channelID: channelID,
		channel:   channel,
	}
}

// connectWS opens a WebSocket to the test server. Closed on test cleanup.
func (env *streamingTestEnv) connectWS(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + env.server.URL[len("http"):]
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readJSONTimeout reads a JSON message from the WebSocket with a timeout.
func readJSONTimeout(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// subscribeAndWait connects a WebSocket, reads connection.established,
// subscribes to the env's channel, reads subscription.confirmed, and
// waits for the LISTEN to propagate.
func (env *streamingTestEnv) subscribeAndWait(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := env.connectWS(t)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: string(env.channel)})
	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "LISTEN did not propagate for channel %s", env.channel)

	return conn
}

// --- Tests ---

func TestIntegration_PublisherPersistsAndNotifies(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	env.publisher.Dispatch(ctx, stats.Event{
		Type: stats.EventSent, ChannelID: env.channelID, MetaDataID: 1, MessageID: 1,
	})
	env.publisher.Dispatch(ctx, stats.Event{
		Type: stats.EventError, ChannelID: env.channelID, MetaDataID: 1, MessageID: 2, Payload: "connection refused",
	})

	records, err := env.dbClient.GetEventsSince(ctx, string(env.channel), 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, EventTypeSent, records[0].Payload["type"])
	assert.Equal(t, float64(1), records[0].Payload["message_id"])

	assert.Equal(t, EventTypeError, records[1].Payload["type"])
	assert.Equal(t, "connection refused", records[1].Payload["status"])

	assert.Greater(t, records[1].ID, records[0].ID)
}

func TestIntegration_TransientEventsNotPersisted(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	env.publisher.DispatchQueueDepth(ctx, env.channelID, 1, 7)

	records, err := env.dbClient.GetEventsSince(ctx, string(env.channel), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, records, "queue depth events should not be persisted in the database")
}

func TestIntegration_EndToEnd_PublishToWebSocket(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	env.publisher.Dispatch(ctx, stats.Event{
		Type: stats.EventMessageReceived, ChannelID: env.channelID, MessageID: 1,
	})

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeMessageReceived, msg["type"])
	assert.Equal(t, env.channelID, msg["channel_id"])
	// db_event_id should be present (added by persistAndNotify after INSERT)
	assert.NotNil(t, msg["db_event_id"])
}

func TestIntegration_TransientEventDelivery(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	env.publisher.DispatchQueueDepth(ctx, env.channelID, 2, 5)

	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeQueueDepth, msg["type"])
	assert.Equal(t, float64(5), msg["depth"])

	records, err := env.dbClient.GetEventsSince(ctx, string(env.channel), 0, 100)
	require.NoError(t, err)
	assert.Empty(t, records, "queue depth events should not be persisted")
}

func TestIntegration_ConnectorLifecycle_MixesPersistentAndTransientEvents(t *testing.T) {
	// Exercises the lifecycle a single message walks through one destination:
	// MESSAGE_RECEIVED and QUEUED are persistent; QUEUE_DEPTH observations
	// interleave but never land in the events table; SENT closes it out.
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.subscribeAndWait(t)

	env.publisher.Dispatch(ctx, stats.Event{Type: stats.EventMessageReceived, ChannelID: env.channelID, MessageID: 10})
	msg := readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeMessageReceived, msg["type"])

	env.publisher.Dispatch(ctx, stats.Event{Type: stats.EventQueued, ChannelID: env.channelID, MetaDataID: 1, MessageID: 10})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeQueued, msg["type"])

	env.publisher.DispatchQueueDepth(ctx, env.channelID, 1, 1)
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeQueueDepth, msg["type"])
	assert.Equal(t, float64(1), msg["depth"])

	env.publisher.Dispatch(ctx, stats.Event{Type: stats.EventSent, ChannelID: env.channelID, MetaDataID: 1, MessageID: 10})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	assert.Equal(t, EventTypeSent, msg["type"])

	records, err := env.dbClient.GetEventsSince(ctx, string(env.channel), 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 2, "only MESSAGE_RECEIVED and SENT are persistent")
	assert.Equal(t, EventTypeMessageReceived, records[0].Payload["type"])
	assert.Equal(t, EventTypeSent, records[1].Payload["type"])
}

func TestIntegration_CatchupFromRealDB(t *testing.T) {
	env := setupStreamingTest(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		env.publisher.Dispatch(ctx, stats.Event{
			Type: stats.EventSent, ChannelID: env.channelID, MetaDataID: 1, MessageID: int64(i),
		})
	}

	allRecords, err := env.dbClient.GetEventsSince(ctx, string(env.channel), 0, 100)
	require.NoError(t, err)
	require.Len(t, allRecords, 3)
	firstEventID := allRecords[0].ID

	// Connect a NEW WebSocket client (simulates reconnection)
	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	subMsg, _ := json.Marshal(ClientMessage{Action: "subscribe", Channel: string(env.channel)})
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(writeCtx, websocket.MessageText, subMsg))
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Auto-catchup delivers all 3 prior events immediately, in order.
	for i := 1; i <= 3; i++ {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, EventTypeSent, msg["type"])
		assert.Equal(t, float64(i), msg["message_id"])
	}

	// Explicit catchup from the first event's ID — should return only events 2 and 3.
	catchupFrom := firstEventID
	catchupMsg, _ := json.Marshal(ClientMessage{
		Action:      "catchup",
		Channel:     string(env.channel),
		LastEventID: &catchupFrom,
	})
	writeCtx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	require.NoError(t, conn.Write(writeCtx2, websocket.MessageText, catchupMsg))

	for i := 2; i <= 3; i++ {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		assert.Equal(t, float64(i), msg["message_id"])
	}

	// No more messages — verify with short timeout.
	readCtx, readCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer readCancel()
	_, _, err = conn.Read(readCtx)
	assert.Error(t, err, "should not receive more messages after catchup")
}

func TestIntegration_ResubscribeAfterUnsubscribe_KeepsListen(t *testing.T) {
	// Regression test for the race condition where a rapid unsubscribe/resubscribe
	// cycle (as caused by React StrictMode double-render, or any client that
	// resubscribes aggressively on reconnect) would drop the PG LISTEN.
	//
	// The race was:
	//   1. subscribe → LISTEN active
	//   2. unsubscribe → async goroutine: UNLISTEN (deferred)
	//   3. resubscribe → l.Subscribe saw "already listening" → returned early
	//   4. goroutine fired UNLISTEN → PG dropped the LISTEN
	//   5. all subsequent NOTIFY events were silently lost
	//
	// The fix has two parts:
	//   - l.Subscribe always sends LISTEN (no early return; PG handles duplicates)
	//   - the UNLISTEN goroutine re-checks m.channels and skips if resubscribed
	env := setupStreamingTest(t)
	ctx := context.Background()

	conn := env.connectWS(t)
	msg := readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "connection.established", msg["type"])

	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: string(env.channel)})
	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	require.Eventually(t, func() bool {
		return env.listener.isListening(env.channel)
	}, 2*time.Second, 10*time.Millisecond, "initial LISTEN should propagate")

	// Rapid unsubscribe + resubscribe
	writeJSON(t, conn, ClientMessage{Action: "unsubscribe", Channel: string(env.channel)})
	writeJSON(t, conn, ClientMessage{Action: "subscribe", Channel: string(env.channel)})

	msg = readJSONTimeout(t, conn, 5*time.Second)
	require.Equal(t, "subscription.confirmed", msg["type"])

	// Wait for the UNLISTEN goroutine to settle and verify LISTEN is still active.
	time.Sleep(200 * time.Millisecond)
	require.True(t, env.listener.isListening(env.channel),
		"LISTEN must survive a rapid unsubscribe/resubscribe cycle")

	env.publisher.Dispatch(ctx, stats.Event{
		Type: stats.EventSent, ChannelID: env.channelID, MetaDataID: 1, MessageID: 99,
	})

	// Drain any catchup events from the resubscribe before checking for the live event.
	for {
		msg = readJSONTimeout(t, conn, 5*time.Second)
		if mid, ok := msg["message_id"].(float64); ok && int64(mid) == 99 {
			break
		}
	}

	assert.Equal(t, EventTypeSent, msg["type"])
	assert.Equal(t, env.channelID, msg["channel_id"])
}

func TestIntegration_ListenerGenerationCounter_StaleUnlistenSkipped(t *testing.T) {
	// Tests the generation counter inside NotifyListener directly, bypassing
	// the ConnectionManager. This exercises the exact scenario from code review:
	//
	//   1. Subscribe → LISTEN, gen=1
	//   2. Concurrent Unsubscribe → captures gen=1, enqueues UNLISTEN(gen=1)
	//   3. Subscribe again → gen=2, enqueues LISTEN
	//   4. cmdCh processes: could be LISTEN then UNLISTEN(gen=1)
	//   5. processPendingCmds detects gen mismatch → skips stale UNLISTEN
	//   6. PG stays listened, l.channels stays true
	env := setupStreamingTest(t)
	ctx := context.Background()
	channel := env.channel

	require.NoError(t, env.listener.Subscribe(ctx, channel))
	require.True(t, env.listener.isListening(channel))

	unsubDone := make(chan struct{})
	go func() {
		defer close(unsubDone)
		_ = env.listener.Unsubscribe(context.Background(), channel)
	}()

	require.NoError(t, env.listener.Subscribe(ctx, channel))

	<-unsubDone

	require.True(t, env.listener.isListening(channel),
		"l.channels must stay true after stale UNLISTEN is skipped")

	conn := env.subscribeAndWait(t)

	env.publisher.Dispatch(ctx, stats.Event{
		Type: stats.EventSent, ChannelID: env.channelID, MetaDataID: 1, MessageID: 77,
	})

	for {
		msg := readJSONTimeout(t, conn, 5*time.Second)
		if mid, ok := msg["message_id"].(float64); ok && int64(mid) == 77 {
			assert.Equal(t, EventTypeSent, msg["type"])
			break
		}
	}
}
