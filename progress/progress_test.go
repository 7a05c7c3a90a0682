package progress

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/phraseforge/storage"
)

type staticAuth map[string]string // token -> user

func (a staticAuth) VerifyToken(token string) (string, error) {
	user, ok := a[token]
	if !ok {
		return "", errors.New("bad token")
	}
	return user, nil
}

func TestMemBusRoomIsolation(t *testing.T) {
	ctx := context.Background()
	bus := NewMemBus()

	var gotA, gotB []*Event
	unsubA, err := bus.Subscribe("job-a", func(e *Event) { gotA = append(gotA, e) })
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := bus.Subscribe("job-b", func(e *Event) { gotB = append(gotB, e) })
	require.NoError(t, err)
	defer unsubB()

	require.NoError(t, bus.Publish(ctx, &Event{JobID: "job-a", ProgressPercent: 10}))
	require.NoError(t, bus.Publish(ctx, &Event{JobID: "job-a", ProgressPercent: 55}))
	require.NoError(t, bus.Publish(ctx, &Event{JobID: "job-b", ProgressPercent: 90}))

	// Subscribers only see their own room, in emit order.
	require.Len(t, gotA, 2)
	assert.Equal(t, 10, gotA[0].ProgressPercent)
	assert.Equal(t, 55, gotA[1].ProgressPercent)
	require.Len(t, gotB, 1)
	assert.Equal(t, "job-b", gotB[0].JobID)
}

func TestMemBusUnsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewMemBus()

	var got int
	unsub, err := bus.Subscribe("job-a", func(*Event) { got++ })
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, &Event{JobID: "job-a"}))
	unsub()
	require.NoError(t, bus.Publish(ctx, &Event{JobID: "job-a"}))

	assert.Equal(t, 1, got)
}

func TestEventFromJob(t *testing.T) {
	job := &storage.Job{
		ID:              "job-1",
		State:           storage.JobStateProcessing,
		ProgressPercent: 40,
		CurrentStep:     "processing chunk 2/5",
	}
	event := EventFromJob(job)
	assert.Equal(t, 40, event.ProgressPercent)
	assert.Nil(t, event.Job, "non-terminal events carry no snapshot")
	assert.False(t, event.Terminal())

	job.State = storage.JobStateCompleted
	event = EventFromJob(job)
	assert.NotNil(t, event.Job)
	assert.True(t, event.Terminal())
}

func newHubFixture(t *testing.T) (*Hub, *storage.JobStore, *MemBus, *httptest.Server) {
	t.Helper()
	jobs := storage.NewJobStore(storage.NewMemKV(storage.BucketJobs))
	bus := NewMemBus()
	hub := NewHub(bus, jobs, staticAuth{"tok-alice": "alice", "tok-bob": "bob"}, nil)
	server := httptest.NewServer(hub)
	t.Cleanup(server.Close)
	return hub, jobs, bus, server
}

func dialHub(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) *serverMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg serverMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestHubJoinReplaysSnapshot(t *testing.T) {
	_, jobs, _, server := newHubFixture(t)

	job, err := jobs.Create(context.Background(), &storage.Job{Owner: "alice", Filename: "a.pdf"})
	require.NoError(t, err)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "join_job", JobID: job.ID, Token: "tok-alice"}))

	msg := readServerMessage(t, conn)
	assert.Equal(t, "job_progress", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, job.ID, msg.Event.JobID)
	assert.Equal(t, storage.JobStatePending, msg.Event.State)
}

func TestHubJoinRejectsNonOwner(t *testing.T) {
	_, jobs, _, server := newHubFixture(t)

	job, err := jobs.Create(context.Background(), &storage.Job{Owner: "alice", Filename: "a.pdf"})
	require.NoError(t, err)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "join_job", JobID: job.ID, Token: "tok-bob"}))
	msg := readServerMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "forbidden", msg.Message)

	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "join_job", JobID: job.ID, Token: "tok-nobody"}))
	msg = readServerMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unauthorized", msg.Message)
}

func TestHubRoomIsolation(t *testing.T) {
	_, jobs, bus, server := newHubFixture(t)
	ctx := context.Background()

	jobA, err := jobs.Create(ctx, &storage.Job{Owner: "alice", Filename: "a.pdf"})
	require.NoError(t, err)
	jobB, err := jobs.Create(ctx, &storage.Job{Owner: "alice", Filename: "b.pdf"})
	require.NoError(t, err)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "join_job", JobID: jobA.ID, Token: "tok-alice"}))
	snapshot := readServerMessage(t, conn)
	require.Equal(t, "job_progress", snapshot.Type)

	// Events for job B must never reach a room-A subscriber.
	require.NoError(t, bus.Publish(ctx, &Event{JobID: jobB.ID, ProgressPercent: 99}))
	require.NoError(t, bus.Publish(ctx, &Event{JobID: jobA.ID, ProgressPercent: 25, CurrentStep: "processing chunk 1/4"}))

	msg := readServerMessage(t, conn)
	assert.Equal(t, jobA.ID, msg.Event.JobID)
	assert.Equal(t, 25, msg.Event.ProgressPercent)
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	_, jobs, bus, server := newHubFixture(t)
	ctx := context.Background()

	job, err := jobs.Create(ctx, &storage.Job{Owner: "alice", Filename: "a.pdf"})
	require.NoError(t, err)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "join_job", JobID: job.ID, Token: "tok-alice"}))
	_ = readServerMessage(t, conn)

	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "leave_job", JobID: job.ID}))

	// Give the hub a moment to process the leave before publishing.
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(job.ID) == 0
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, &Event{JobID: job.ID, ProgressPercent: 50}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var msg serverMessage
	err = conn.ReadJSON(&msg)
	assert.Error(t, err, "no message expected after leaving the room")
}

func TestHubBroadcastToDisconnectedClient(t *testing.T) {
	jobs := storage.NewJobStore(storage.NewMemKV(storage.BucketJobs))
	hub := NewHub(NewMemBus(), jobs, staticAuth{}, nil)

	c := &client{
		hub:   hub,
		send:  make(chan *serverMessage, sendBuffer),
		rooms: map[string]struct{}{"job-1": {}},
	}
	hub.rooms["job-1"] = &room{members: map[*client]struct{}{c: {}}}

	// A disconnecting read pump closes the client after broadcast has
	// snapshotted the room members; the send must be dropped, not panic.
	c.close()
	assert.NotPanics(t, func() {
		hub.broadcast("job-1", &Event{JobID: "job-1", ProgressPercent: 50})
	})
}

func TestHubSlowConsumerDroppedOnce(t *testing.T) {
	// An unbuffered channel with no write pump models a consumer that
	// never drains: the first reply closes the client, later replies and
	// the read pump's own close are no-ops.
	c := &client{send: make(chan *serverMessage)}
	assert.NotPanics(t, func() {
		c.reply(&serverMessage{Type: "job_progress"})
		c.reply(&serverMessage{Type: "job_progress"})
		c.close()
	})
}

func TestHubMalformedMessage(t *testing.T) {
	_, _, _, server := newHubFixture(t)

	conn := dialHub(t, server)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readServerMessage(t, conn)
	assert.Equal(t, "error", msg.Type)

	require.NoError(t, conn.WriteJSON(&clientMessage{Type: "dance"}))
	msg = readServerMessage(t, conn)
	assert.Equal(t, "error", msg.Type)
}

var _ http.Handler = (*Hub)(nil)
