package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"spectra/types"
)

func startHub(t *testing.T) (Hub, *httptest.Server) {
	t.Helper()
	log := zaptest.NewLogger(t)
	h := NewHub(log)
	go h.Run()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = Serve(h, w, r, r.URL.Query().Get("topic"), log)
	}))
	t.Cleanup(func() {
		server.Close()
		h.Stop()
	})
	return h, server
}

func dial(t *testing.T, server *httptest.Server, topic string) *gorilla.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/?topic=" + topic
	conn, _, err := gorilla.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, h Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.ClientCount() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDeliversToTopicAndAll(t *testing.T) {
	h, server := startHub(t)

	workerConn := dial(t, server, "worker")
	allConn := dial(t, server, TopicAll)
	waitForClients(t, h, 2)

	h.Publish(types.EventMessage{Type: types.EventWorkerState, Topic: "worker", Status: "healthy"})

	for _, conn := range []*gorilla.Conn{workerConn, allConn} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg types.EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, types.EventWorkerState, msg.Type)
		assert.Equal(t, "healthy", msg.Status)
		assert.False(t, msg.Timestamp.IsZero())
	}
}

func TestHubSkipsOtherTopics(t *testing.T) {
	h, server := startHub(t)

	conn := dial(t, server, "separation")
	waitForClients(t, h, 1)

	h.Publish(types.EventMessage{Type: types.EventJobQueued, Topic: "analysis", Status: "queued"})
	h.Publish(types.EventMessage{Type: types.EventJobQueued, Topic: "separation", Status: "queued", JobID: "job-2"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg types.EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "job-2", msg.JobID)
}

func TestHubUnregistersOnClose(t *testing.T) {
	h, server := startHub(t)

	conn := dial(t, server, TopicAll)
	waitForClients(t, h, 1)

	require.NoError(t, conn.Close())
	waitForClients(t, h, 0)
}
