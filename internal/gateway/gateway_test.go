package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youngger9765/career-creator-sub000/internal/transport"
)

func TestTopicFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    string
		ok      bool
	}{
		{subject: "board.room:r1:cards:values.cardMoved", want: "room:r1:cards:values", ok: true},
		{subject: "board.room:r1:presence.presenceTrack", want: "room:r1:presence", ok: true},
		{subject: "other.room:r1:cards:values.cardMoved", ok: false},
		{subject: "board.onlytwo", ok: false},
	}

	for _, tc := range cases {
		got, ok := topicFromSubject(tc.subject)
		assert.Equal(t, tc.ok, ok, tc.subject)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.subject)
		}
	}
}

func TestFanOutRacingDisconnectDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	topic := transport.Topic("r1", "values")
	env := transport.Envelope{Type: "broadcast", Event: transport.EventCardMoved, Payload: json.RawMessage(`{}`)}

	// An observer can disconnect while a broadcast is in flight; the manager
	// must never send on the closed buffer.
	for i := 0; i < 200; i++ {
		obs := &observer{
			id:      fmt.Sprintf("obs-%d", i),
			topic:   topic,
			send:    make(chan []byte, 256),
			manager: cm,
		}
		cm.register(obs)

		done := make(chan struct{})
		go func() {
			cm.unregister(obs)
			close(done)
		}()
		cm.fanOut(broadcastMessage{topic: topic, env: env})
		<-done

		for range obs.send {
			// drain until unregister's close
		}
	}
	assert.Zero(t, cm.ObserverCount(topic))
}

func TestObserveRequiresRoomAndGame(t *testing.T) {
	h := NewHandler(NewConnectionManager(DefaultConnectionConfig()))
	mux := http.NewServeMux()
	h.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?room=r1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	h := NewHandler(NewConnectionManager(DefaultConnectionConfig()))
	mux := http.NewServeMux()
	h.Routes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
