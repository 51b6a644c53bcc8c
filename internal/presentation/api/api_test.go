package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hilthontt/stockchat/internal/application/chat"
	"github.com/hilthontt/stockchat/internal/domain"
	"github.com/hilthontt/stockchat/internal/infrastructure/configs"
	"github.com/hilthontt/stockchat/internal/infrastructure/logging"
	"github.com/hilthontt/stockchat/internal/infrastructure/metrics"
	"github.com/hilthontt/stockchat/internal/infrastructure/ratelimiter"
	"github.com/hilthontt/stockchat/internal/infrastructure/repository"
	"github.com/hilthontt/stockchat/internal/infrastructure/ws"
	healthHandler "github.com/hilthontt/stockchat/internal/presentation/handler/health"
	messagesHandler "github.com/hilthontt/stockchat/internal/presentation/handler/messages"
	roomHandler "github.com/hilthontt/stockchat/internal/presentation/handler/rooms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu    sync.Mutex
	codes []string
}

func (p *recordingPublisher) PublishCommand(_ context.Context, code, _, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.codes = append(p.codes, code)
	return nil
}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.codes...)
}

type testServer struct {
	srv       *httptest.Server
	publisher *recordingPublisher
}

func newTestServer(t *testing.T, limiter ratelimiter.Limiter) *testServer {
	t.Helper()

	logger := logging.NewRecordingLogger()
	m := metrics.New()

	lobby, err := domain.NewRoom("lobby", "Lobby", "General chat")
	require.NoError(t, err)
	tech, err := domain.NewRoom("tech", "Tech", "")
	require.NoError(t, err)

	messages := repository.NewMessageRepository(100)
	core := ws.NewCore(messages, logger, m, ws.DefaultHistorySize)

	ctx, cancel := context.WithCancel(context.Background())
	go core.Run(ctx)
	t.Cleanup(cancel)

	publisher := &recordingPublisher{}
	svc := chat.NewService(
		repository.NewUserRepository(),
		messages,
		repository.NewRoomRepository(*lobby, *tech),
		publisher,
		core,
		logger,
		chat.Config{CommandInterval: time.Millisecond, CommandBurst: 10},
	)

	app := NewApplication(
		configs.HTTPConfig{AllowedOrigins: []string{"*"}},
		roomHandler.NewHandler(svc, core, logger),
		healthHandler.NewHandler(),
		messagesHandler.NewHandler(svc, logger),
		logger,
		limiter,
		m,
	)

	srv := httptest.NewServer(app.Mount())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, publisher: publisher}
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(s.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRouter_ListRooms(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.get(t, "/api/rooms/")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rooms []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rooms))
	require.Len(t, rooms, 2)

	ids := []any{rooms[0]["id"], rooms[1]["id"]}
	assert.ElementsMatch(t, []any{"lobby", "tech"}, ids)
}

func TestRouter_UnknownRoomIs404(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.get(t, "/api/rooms/nowhere")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_SendThenHistory(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/api/rooms/lobby/messages", `{"username":"john","content":"hello there"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = s.get(t, "/api/rooms/lobby/messages?count=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	assert.Equal(t, "john", history[0]["username"])
	assert.Equal(t, "hello there", history[0]["content"])
	assert.Equal(t, false, history[0]["isQuote"])
}

func TestRouter_StockCommandIsPublishedNotStored(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.post(t, "/api/rooms/tech/messages", `{"username":"jane","content":"/stock=aapl.us"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["notice"], "AAPL.US")
	assert.Equal(t, []string{"aapl.us"}, s.publisher.published())

	resp = s.get(t, "/api/rooms/tech/messages")
	var history []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	assert.Empty(t, history)
}

func TestRouter_BadHistoryCount(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.get(t, "/api/rooms/lobby/messages?count=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_RateLimited(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	limiter, err := ratelimiter.New(ratelimiter.Options{
		MaxRatePerSecond: 1,
		MaxBurst:         2,
		Now:              func() time.Time { return now },
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = limiter.Close() })

	s := newTestServer(t, limiter)

	for i := 0; i < 2; i++ {
		resp := s.get(t, "/api/rooms/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("X-RateLimit-Limit"))
	}

	resp := s.get(t, "/api/rooms/")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	resp := s.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = s.get(t, "/api/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = s.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "stockchat_http_requests_total")
}

func TestRouter_CorsPreflight(t *testing.T) {
	s := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, s.srv.URL+"/api/rooms/", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
