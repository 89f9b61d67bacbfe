package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiva/campusride/internal/logging"
	"github.com/shiva/campusride/internal/model"
)

func sampleEvent(id int64) model.TripEvent {
	return model.TripEvent{
		Type: model.EventTripCreated,
		Trip: model.Trip{
			ID:            id,
			DriverID:      "driver-1",
			Origin:        model.Place{Label: "Universidad Nacional", Lat: 4.6381, Lon: -74.0840},
			Destination:   model.Place{Label: "Suba", Lat: 4.7410, Lon: -74.0840},
			DepartureDate: "2024-05-01",
			DepartureTime: "17:30",
			VehicleType:   model.VehicleStandard,
		},
		OccurredAt: time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC),
	}
}

func dialFeed(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_BroadcastsToSubscribers(t *testing.T) {
	hub := NewHub(logging.Discard())
	a := dialFeed(t, hub)
	b := dialFeed(t, hub)
	require.Eventually(t, func() bool { return hub.Subscribers() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), sampleEvent(7)))

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got model.TripEvent
		require.NoError(t, conn.ReadJSON(&got))
		assert.Equal(t, model.EventTripCreated, got.Type)
		assert.Equal(t, int64(7), got.Trip.ID)
		assert.Equal(t, "Suba", got.Trip.Destination.Label)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(logging.Discard())
	conn := dialFeed(t, hub)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	hub := NewHub(logging.Discard())
	slow := newSubscriber(nil, 1)
	require.True(t, hub.add(slow))

	require.NoError(t, hub.Publish(context.Background(), sampleEvent(1)))
	assert.Equal(t, 1, hub.Subscribers())

	require.NoError(t, hub.Publish(context.Background(), sampleEvent(2)))
	assert.Equal(t, 0, hub.Subscribers())

	select {
	case <-slow.done:
	default:
		t.Fatal("slow subscriber was not closed")
	}
}

func TestHub_CloseRefusesNewSubscribers(t *testing.T) {
	hub := NewHub(logging.Discard())
	require.NoError(t, hub.Close())

	srv := httptest.NewServer(hub)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher_KeysByTripID(t *testing.T) {
	w := &fakeWriter{}
	pub := &KafkaPublisher{writer: w, timeout: time.Second}

	require.NoError(t, pub.Publish(context.Background(), sampleEvent(42)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "42", string(w.msgs[0].Key))

	var decoded model.TripEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, int64(42), decoded.Trip.ID)
	assert.Equal(t, model.EventTripCreated, decoded.Type)
}

type stubPublisher struct {
	calls int
	err   error
}

func (s *stubPublisher) Publish(ctx context.Context, evt model.TripEvent) error {
	s.calls++
	return s.err
}

func TestMulti_PublishesToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("broker down")
	ok := &stubPublisher{}
	failing := &stubPublisher{err: boom}
	kafkaPub := &KafkaPublisher{writer: &fakeWriter{err: kafka.LeaderNotAvailable}, timeout: time.Second}

	err := Multi{failing, ok, kafkaPub}.Publish(context.Background(), sampleEvent(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)
}
