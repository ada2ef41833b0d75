package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PancyStudios/PancyModLogs/pkg/ingest"
	"github.com/PancyStudios/PancyModLogs/pkg/logstore"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const testToken = "s3cret"

type fakeIndexer struct {
	mu          sync.Mutex
	records     map[uint64]models.LogRecord
	checkpoints map[uint64]uint64
	watched     map[uint64]bool
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		records:     make(map[uint64]models.LogRecord),
		checkpoints: make(map[uint64]uint64),
		watched:     map[uint64]bool{600: true},
	}
}

func (f *fakeIndexer) Query(userID uint64) ([]models.LogRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.LogRecord
	for _, rec := range f.records {
		if slices.Contains(rec.UserIDs(), userID) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b models.LogRecord) int {
		switch {
		case a.MessageID > b.MessageID:
			return -1
		case a.MessageID < b.MessageID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (f *fakeIndexer) Save(_ context.Context, rec models.LogRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.MessageID] = rec
	return nil
}

func (f *fakeIndexer) Delete(_ context.Context, messageID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, messageID)
	return nil
}

func (f *fakeIndexer) Checkpoint(channelID uint64) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp, ok := f.checkpoints[channelID]
	return cp, ok, nil
}

func (f *fakeIndexer) ScanChannel(_ context.Context, channelID uint64) (ingest.ScanResult, error) {
	if !f.watched[channelID] {
		return ingest.ScanResult{ChannelID: channelID}, ingest.ErrNotWatched
	}
	return ingest.ScanResult{ChannelID: channelID, Mode: "forward", Pages: 1, Messages: 3, Queued: 2, Checkpoint: 900}, nil
}

func (f *fakeIndexer) QueueDepth() int { return 4 }

type fakeStats struct{}

func (fakeStats) Stats() (logstore.Stats, error) {
	return logstore.Stats{Records: 7, IndexKeys: 9, Checkpoints: 2}, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeIndexer, *Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if opts.APIToken == "" {
		opts.APIToken = testToken
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "modlogs_test_total", Help: "test"}))

	ix := newFakeIndexer()
	hub := NewHub()
	t.Cleanup(hub.Close)

	s := NewServer(opts)
	SetupAPIRoutes(s, Deps{Indexer: ix, Store: fakeStats{}, Gatherer: reg, Hub: hub})
	return s, ix, hub
}

func do(s *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthNeedsNoToken(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/api/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

func TestAuthMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})

	w := do(s, http.MethodGet, "/api/status", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(s, http.MethodGet, "/api/status?token="+testToken, "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatus(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/api/status", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	index := body["index"].(map[string]interface{})
	assert.Equal(t, 4.0, index["queueDepth"])
	assert.Equal(t, 7.0, index["stats"].(map[string]interface{})["records"])
	assert.Equal(t, false, body["database"].(map[string]interface{})["isOnline"])
	assert.Equal(t, false, body["bot"].(map[string]interface{})["isOnline"])
}

func TestLogsLifecycle(t *testing.T) {
	s, ix, _ := newTestServer(t, Options{})

	doc := `{"messageId":"1001","channelId":"600","logType":"discord","infractionType":"Ban",` +
		`"robloxUserIds":[],"discordUserIds":["123456789012345678"],"reason":"alts"}`
	w := do(s, http.MethodPost, "/api/logs", doc, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "1001", decode(t, w)["messageId"])
	require.Contains(t, ix.records, uint64(1001))
	assert.Equal(t, models.InfractionBan, ix.records[1001].InfractionType)

	w = do(s, http.MethodGet, "/api/logs/123456789012345678", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, 1.0, body["count"])
	records := body["records"].([]interface{})
	assert.Equal(t, "alts", records[0].(map[string]interface{})["reason"])

	w = do(s, http.MethodDelete, "/api/logs/1001", "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(s, http.MethodGet, "/api/logs/123456789012345678", "", true)
	body = decode(t, w)
	assert.Equal(t, 0.0, body["count"])
	assert.Equal(t, []interface{}{}, body["records"])
}

func TestBadInput(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})

	tests := []struct {
		name, method, path, body string
	}{
		{"non numeric user", http.MethodGet, "/api/logs/abc", ""},
		{"zero user", http.MethodGet, "/api/logs/0", ""},
		{"bad message id", http.MethodDelete, "/api/logs/x1", ""},
		{"broken json", http.MethodPost, "/api/logs", `{"messageId":`},
		{"bad snowflake", http.MethodPost, "/api/logs", `{"messageId":"abc","channelId":"600","logType":"game"}`},
		{"bad log type", http.MethodPost, "/api/logs", `{"messageId":"1","channelId":"600","logType":"voice"}`},
		{"bad checkpoint channel", http.MethodGet, "/api/checkpoints/-1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(s, tt.method, tt.path, tt.body, true)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCheckpoint(t *testing.T) {
	s, ix, _ := newTestServer(t, Options{})

	w := do(s, http.MethodGet, "/api/checkpoints/600", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ix.checkpoints[600] = 1234567890123
	w = do(s, http.MethodGet, "/api/checkpoints/600", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1234567890123", decode(t, w)["checkpoint"])
}

func TestScan(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})

	w := do(s, http.MethodPost, "/api/scan/777", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPost, "/api/scan/600", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "600", body["channelId"])
	assert.Equal(t, "900", body["checkpoint"])
	assert.Equal(t, 2.0, body["queued"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "modlogs_test_total")
}

func TestNotFoundAndMethod(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	w := do(s, http.MethodGet, "/nope", "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Not Found", decode(t, w)["error"])
}

func TestRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, Options{RateLimit: RateLimitConfig{Window: time.Minute, MaxRequests: 2}})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/health", "", false).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/health", "", false).Code)
}

func TestAllowedHosts(t *testing.T) {
	s, _, _ := newTestServer(t, Options{AllowedHosts: regexp.MustCompile(`^modlogs\.internal(:\d+)?$`)})

	// httptest requests default to example.com
	assert.Equal(t, http.StatusForbidden, do(s, http.MethodGet, "/api/health", "", false).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Host = "modlogs.internal:3000"
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStreamBroadcast(t *testing.T) {
	s, _, hub := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream?token=" + testToken
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.RecordSaved(models.LogRecord{MessageID: 55, ChannelID: 600, LogType: models.LogTypeGame, RobloxUserIDs: []uint64{1234567}, InfractionType: models.InfractionKick})
	hub.RecordDeleted(54)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev StreamEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "saved", ev.Event)
	assert.Equal(t, "55", ev.MessageID)
	require.NotNil(t, ev.Record)
	assert.Equal(t, []string{"1234567"}, ev.Record.RobloxUserIDs)

	ev = StreamEvent{}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "deleted", ev.Event)
	assert.Equal(t, "54", ev.MessageID)
	assert.Nil(t, ev.Record)

	hub.Close()
	assert.Equal(t, 0, hub.ClientCount())
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
}

func TestStreamRequiresToken(t *testing.T) {
	s, _, _ := newTestServer(t, Options{})
	ts := httptest.NewServer(s.Engine())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
