package publish

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketHandler_StreamsSelectedTopics(t *testing.T) {
	hub := startHub(t)
	srv := httptest.NewServer(NewWebSocketHandler(hub, 8))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?topic=fast_pose,+tf"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Stats().Clients == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.Publish(Message{Topic: TopicOdometry, Seq: 1})
	hub.Publish(Message{Topic: TopicTransform, Seq: 2})
	hub.Publish(Message{Topic: TopicFastPose, Seq: 3})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var a, b map[string]interface{}
	require.NoError(t, conn.ReadJSON(&a))
	require.NoError(t, conn.ReadJSON(&b))
	assert.Equal(t, TopicTransform, a["topic"])
	assert.Equal(t, TopicFastPose, b["topic"])

	conn.Close()
	require.Eventually(t, func() bool { return hub.Stats().Clients == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketHandler_RejectsPlainHTTP(t *testing.T) {
	hub := startHub(t)
	rec := httptest.NewRecorder()
	NewWebSocketHandler(hub, 0).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, 400, rec.Code)
	assert.Zero(t, hub.Stats().Clients)
}
