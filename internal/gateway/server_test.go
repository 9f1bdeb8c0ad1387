package gateway_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/gateway"
	"modelgate/internal/memory"
	"modelgate/internal/provider"
	"modelgate/internal/quota"
	"modelgate/internal/ratelimit"
	"modelgate/internal/relay"
	"modelgate/internal/router"
	"modelgate/internal/schema"
	"modelgate/internal/storage"
)

type stubProvider struct {
	name        string
	fragments   []string
	streamErr   error
	completion  schema.Completion
	completeErr error
}

func (s *stubProvider) Name() string     { return s.name }
func (s *stubProvider) Models() []string { return nil }

func (s *stubProvider) Transform([]schema.Message) ([]provider.WireMessage, error) {
	return nil, nil
}

func (s *stubProvider) BuildRequest([]provider.WireMessage, string, provider.Options, bool) map[string]any {
	return nil
}

func (s *stubProvider) Complete(context.Context, []schema.Message, string, provider.Options) (schema.Completion, error) {
	return s.completion, s.completeErr
}

func (s *stubProvider) Stream(ctx context.Context, _ []schema.Message, _ string, _ provider.Options) (<-chan string, <-chan error) {
	fragments := make(chan string, len(s.fragments))
	errs := make(chan error, 1)
	go func() {
		defer close(fragments)
		defer close(errs)
		for _, f := range s.fragments {
			fragments <- f
		}
		if s.streamErr != nil {
			errs <- s.streamErr
		}
	}()
	return fragments, errs
}

type fixture struct {
	server  *gateway.Server
	engine  *gin.Engine
	backend *storage.MemoryBackend
	stub    *stubProvider
	alt     *stubProvider
}

func newFixture(t *testing.T, limiter *ratelimit.Limiter) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	backend := storage.NewMemoryBackend()
	stub := &stubProvider{
		name:       "stub",
		fragments:  []string{"Hello", " world"},
		completion: schema.Completion{Content: "Hello world", FinishReason: "stop"},
	}
	alt := &stubProvider{
		name:       "alt",
		fragments:  []string{"alternative"},
		completion: schema.Completion{Content: "alternative answer", FinishReason: "stop"},
	}

	descriptors := []router.Descriptor{
		{Model: "stub-model", Provider: "stub", Cost: 0.5, ContextWindow: 100000, Latency: router.LatencyLow, APIKey: "k"},
		{Model: "alt-model", Provider: "alt", Cost: 0.6, ContextWindow: 100000, Latency: router.LatencyLow, APIKey: "k"},
	}

	srv := gateway.NewServer(gateway.Options{
		Router:    router.New(descriptors, nil, nil),
		Registry:  provider.NewRegistry(stub, alt),
		Relay:     relay.New(nil),
		Gate:      quota.New(backend, nil),
		Store:     memory.NewStore(backend, nil),
		Limiter:   limiter,
		JWTSecret: "test-secret",
	})

	return &fixture{
		server:  srv,
		engine:  srv.Routes(),
		backend: backend,
		stub:    stub,
		alt:     alt,
	}
}

func (f *fixture) post(t *testing.T, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	f.engine.ServeHTTP(w, req)
	return w
}

func TestChatCompletions_Blocking(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false,"user_id":"alice"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stub-model", w.Header().Get("X-Selected-Model"))
	assert.NotEmpty(t, w.Header().Get("X-Conversation-Id"))
	assert.Equal(t, "50", w.Header().Get("X-Messages-Remaining"))

	body := w.Body.String()
	assert.Contains(t, body, `"content":"Hello world"`)
	assert.Contains(t, body, `"finish_reason":"stop"`)
	assert.Contains(t, body, `"conversation_id"`)

	// Message accounting ran inline (no pool configured).
	raw, err := f.backend.Get(context.Background(), "usage:alice:"+time.Now().Format("2006-01-02")+":messages")
	require.NoError(t, err)
	assert.Equal(t, "1", raw)
}

func TestChatCompletions_Streaming(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"user_id":"alice"}`, nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "stub-model", w.Header().Get("X-Selected-Model"))

	body := w.Body.String()
	assert.Contains(t, body, `data: {"content":"Hello"}`)
	assert.Contains(t, body, `data: {"content":" world"}`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestChatCompletions_StreamError(t *testing.T) {
	f := newFixture(t, nil)
	f.stub.fragments = []string{"partial"}
	f.stub.streamErr = errors.New("upstream hung up")

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}]}`, nil)

	body := w.Body.String()
	assert.Contains(t, body, `data: {"content":"partial"}`)
	assert.Contains(t, body, `data: {"error":"upstream hung up"}`)
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))
}

func TestChatCompletions_InvalidRole(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"robot","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatCompletions_QuotaExceeded(t *testing.T) {
	f := newFixture(t, nil)

	ctx := context.Background()
	key := "usage:alice:" + time.Now().Format("2006-01-02") + ":messages"
	for i := 0; i < 50; i++ {
		_, err := f.backend.Incr(ctx, key, time.Hour)
		require.NoError(t, err)
	}

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"user_id":"alice"}`, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Usage limit exceeded")
	assert.Contains(t, w.Body.String(), "Upgrade to Starter")
}

func TestChatCompletions_AnonymousNotAdmissionChecked(t *testing.T) {
	f := newFixture(t, nil)

	// A shared anonymous counter past the FREE daily cap must not block
	// anonymous traffic; only identified users are limited.
	ctx := context.Background()
	key := "usage:anonymous:" + time.Now().Format("2006-01-02") + ":messages"
	for i := 0; i < 50; i++ {
		_, err := f.backend.Incr(ctx, key, time.Hour)
		require.NoError(t, err)
	}

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "-1", w.Header().Get("X-Messages-Remaining"))
}

func TestChatCompletions_NoCredentialedProviders(t *testing.T) {
	gin.SetMode(gin.TestMode)

	backend := storage.NewMemoryBackend()
	descriptors := []router.Descriptor{
		{Model: "stub-model", Provider: "stub", Cost: 0.5, ContextWindow: 100000, Latency: router.LatencyLow, APIKey: ""},
	}
	srv := gateway.NewServer(gateway.Options{
		Router:   router.New(descriptors, nil, nil),
		Registry: provider.NewRegistry(&stubProvider{name: "stub"}),
		Relay:    relay.New(nil),
		Gate:     quota.New(backend, nil),
		Store:    memory.NewStore(backend, nil),
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"messages":[{"role":"user","content":"hello"}],"stream":false}`))
	req.Header.Set("Content-Type", "application/json")
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "no providers have API keys configured")
}

func TestChatCompletions_ModelPreference(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"model":"alt-model","stream":false}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alt-model", w.Header().Get("X-Selected-Model"))
	assert.Contains(t, w.Body.String(), "alternative answer")
}

func TestChatCompletions_FallbackOnFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.stub.completeErr = errors.New("provider down")

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alt-model", w.Header().Get("X-Selected-Model"))
	assert.Contains(t, w.Body.String(), "alternative answer")
}

func TestChatCompletions_ConversationMemory(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false,"user_id":"alice","conversation_id":"conv-1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	store := memory.NewStore(f.backend, nil)
	history, err := store.Context(context.Background(), "alice", "conv-1", 20)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, schema.RoleUser, history[0].Role)
	assert.Equal(t, schema.RoleAssistant, history[1].Role)
	assert.Equal(t, "Hello world", history[1].Content)
}

func TestAuth_ValidToken(t *testing.T) {
	f := newFixture(t, nil)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "carol_pro",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false}`,
		map[string]string{"Authorization": "Bearer " + signed})

	require.Equal(t, http.StatusOK, w.Code)
	// PRO tier is unlimited.
	assert.Equal(t, "-1", w.Header().Get("X-Messages-Remaining"))
}

func TestAuth_TierClaimOverridesSuffix(t *testing.T) {
	f := newFixture(t, nil)

	// "alice" would be FREE by convention; the verified claim wins.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "alice",
		"tier":    "BUSINESS",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}],"stream":false}`,
		map[string]string{"Authorization": "Bearer " + signed})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "-1", w.Header().Get("X-Messages-Remaining"))
}

func TestAuth_InvalidToken(t *testing.T) {
	f := newFixture(t, nil)

	w := f.post(t, `{"messages":[{"role":"user","content":"hello"}]}`,
		map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestModelsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/models", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"stub-model"`)
	assert.Contains(t, w.Body.String(), `"available":true`)
}

func TestUsageEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/usage?user_id=alice", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tier":"FREE"`)
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitWired(t *testing.T) {
	f := newFixture(t, ratelimit.New(0.001, 1))

	body := `{"messages":[{"role":"user","content":"hello"}],"stream":false,"user_id":"alice"}`
	require.Equal(t, http.StatusOK, f.post(t, body, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.post(t, body, nil).Code)
}
