package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtime-service/internal/domain"
)

func testClient(id, userID string) *Client {
	return newClient(id, nil, domain.Identity{UserID: userID}, "")
}

func TestHub_JoinIsIdempotentAndUnregisterLeavesAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient("s1", "u1")

	assert.False(t, hub.join(c, "query:q1"), "unregistered clients cannot join")

	hub.register(c)
	assert.True(t, hub.join(c, "query:q1"))
	assert.False(t, hub.join(c, "query:q1"))
	assert.True(t, hub.join(c, "workspace:ws2"))
	assert.True(t, hub.join(c, "workspace:ws1"))
	assert.Equal(t, 1, hub.roomSize("query:q1"))
	assert.Equal(t, []string{"ws1", "ws2"}, hub.workspaceRooms(c))

	assert.True(t, hub.leave(c, "query:q1"))
	assert.False(t, hub.leave(c, "query:q1"))
	assert.Equal(t, 0, hub.roomSize("query:q1"))

	rooms := hub.unregister(c)
	assert.Equal(t, []string{"workspace:ws1", "workspace:ws2"}, rooms)
	assert.Equal(t, 0, hub.roomSize("workspace:ws1"))
	assert.Equal(t, 0, hub.ClientCount())
	assert.Nil(t, hub.unregister(c))
}

func TestHub_EmitCountsAcceptingClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	a := testClient("s1", "u1")
	b := testClient("s2", "u2")
	hub.register(a)
	hub.register(b)
	hub.join(a, "workspace:ws1")
	hub.join(b, "workspace:ws1")

	assert.Equal(t, 2, hub.EmitToRoom("workspace:ws1", "e", json.RawMessage(`{"n":1}`)))
	assert.Equal(t, 1, hub.EmitToRoomExcept("workspace:ws1", a, "e", nil))
	assert.Equal(t, 0, hub.EmitToRoom("workspace:empty", "e", nil))
	assert.Equal(t, 2, hub.EmitToAll("e", nil))

	var frame Frame
	require.NoError(t, json.Unmarshal(<-a.send, &frame))
	assert.Equal(t, "e", frame.Event)
	assert.JSONEq(t, `{"n":1}`, string(frame.Data))
}

func TestHub_SlowClientIsCutOff(t *testing.T) {
	hub := NewHub(zap.NewNop())
	c := testClient("s1", "u1")
	hub.register(c)
	hub.join(c, "user:u1")

	for i := 0; i < sendBufferSize; i++ {
		require.Equal(t, 1, hub.EmitToRoom("user:u1", "e", nil))
	}
	// buffer full: the client is closed and counts as not delivered
	assert.Equal(t, 0, hub.EmitToRoom("user:u1", "e", nil))
	assert.Equal(t, 0, hub.EmitToRoom("user:u1", "e", nil))

	drained := 0
	for range c.send {
		drained++
	}
	assert.Equal(t, sendBufferSize, drained)
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name  string
		build func(r *http.Request)
		want  string
	}{
		{
			name: "bearer header wins",
			build: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer header-token")
				r.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
			},
			want: "header-token",
		},
		{
			name:  "query parameter",
			build: func(r *http.Request) { r.URL.RawQuery = "token=query-token" },
			want:  "query-token",
		},
		{
			name: "access_token cookie",
			build: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
			},
			want: "cookie-token",
		},
		{
			name:  "non-bearer header is ignored",
			build: func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tt.build(r)
			assert.Equal(t, tt.want, extractToken(r))
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker("https://app.example.com, https://admin.example.com")

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, check(r), "non-browser clients send no origin")

	r.Header.Set("Origin", "https://admin.example.com")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))

	r.Header.Set("Origin", "https://anything.example.com")
	assert.True(t, originChecker("*")(r))
}

func TestDecodeField(t *testing.T) {
	id, err := decodeField(json.RawMessage(`"ws1"`), "workspaceId")
	require.NoError(t, err)
	assert.Equal(t, "ws1", id)

	id, err = decodeField(json.RawMessage(`{"workspaceId":" ws2 "}`), "workspaceId")
	require.NoError(t, err)
	assert.Equal(t, "ws2", id)

	for _, bad := range []string{``, `null`, `42`, `{"other":"x"}`, `{"workspaceId":7}`} {
		_, err := decodeField(json.RawMessage(bad), "workspaceId")
		assert.ErrorIs(t, err, errInvalidPayload, bad)
	}
}

func TestTagQueued(t *testing.T) {
	tagged := tagQueued(json.RawMessage(`{"id":"msg-1"}`), "d1", 2, 3)
	assert.JSONEq(t, `{"id":"msg-1","wasQueued":true,"deliveryId":"d1","batchIndex":2,"batchSize":3}`, string(tagged))

	tagged = tagQueued(nil, "d1", 0, 1)
	assert.JSONEq(t, `{"wasQueued":true,"deliveryId":"d1","batchIndex":0,"batchSize":1}`, string(tagged))
}
