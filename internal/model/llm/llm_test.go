package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-copilot/pkg/config"
	apperrors "fleet-copilot/pkg/errors"
)

type fakeClient struct {
	reply    string
	err      error
	lastMsgs []Message
	lastOpts GenerateOptions
}

func (f *fakeClient) ChatWithContext(_ context.Context, messages []Message, options GenerateOptions) (string, error) {
	f.lastMsgs = messages
	f.lastOpts = options
	return f.reply, f.err
}
func (f *fakeClient) Model() string    { return "fake" }
func (f *fakeClient) Provider() string { return "fake" }

func TestOpenAIClient_ChatWithContext(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"list cell attributes all"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClientWithBaseURL("gpt-4o-mini", "sk-test", srv.URL)
	require.NoError(t, err)
	out, err := c.ChatWithContext(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerateOptions{MaxTokens: 16})
	require.NoError(t, err)
	assert.Equal(t, "list cell attributes all", out)
	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.Equal(t, 16, got.MaxTokens)
	require.Len(t, got.Messages, 1)
}

func TestOpenAIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"overloaded"}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClientWithBaseURL("m", "k", srv.URL)
	require.NoError(t, err)
	_, err = c.ChatWithContext(context.Background(), nil, GenerateOptions{})
	assert.ErrorContains(t, err, "503")
}

func TestNewClient_UnsupportedProvider(t *testing.T) {
	_, err := NewClient("claude", "m", "k", "")
	assert.Error(t, err)
}

func TestSampler_Sample(t *testing.T) {
	fc := &fakeClient{reply: "  SELECT  \n"}
	s := NewSampler(fc, 64)

	out, err := s.Sample(context.Background(), "translate this")
	require.NoError(t, err)
	assert.Equal(t, "SELECT", out)
	assert.Equal(t, float64(0), fc.lastOpts.Temperature)
	assert.Equal(t, 64, fc.lastOpts.MaxTokens)
	assert.Equal(t, []Message{{Role: "user", Content: "translate this"}}, fc.lastMsgs)
}

func TestSampler_BackendError(t *testing.T) {
	s := NewSampler(&fakeClient{err: errors.New("dial tcp: refused")}, 0)
	_, err := s.Sample(context.Background(), "x")
	assert.ErrorIs(t, err, apperrors.ErrBackendUnavailable)
}

func TestRateLimitedClient_ReleasesSlot(t *testing.T) {
	limiter := NewLLMRateLimiter(map[string]config.LLMRateLimitConfig{
		"fake": {RequestsPerMinute: 6000, MaxConcurrent: 1},
	})
	c := NewRateLimitedClient(&fakeClient{reply: "ok"}, limiter)

	for i := 0; i < 3; i++ {
		out, err := c.ChatWithContext(context.Background(), []Message{{Role: "user", Content: "hi"}}, GenerateOptions{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 0, limiter.InFlight("fake"))
}

func TestRateLimiter_EstimateAboveBurst(t *testing.T) {
	// 600 tokens/min -> burst 20；估算值远大于 burst 时不应报错
	limiter := NewLLMRateLimiter(map[string]config.LLMRateLimitConfig{"p": {TokensPerMinute: 600}})
	require.NoError(t, limiter.Wait(context.Background(), "p", 5000))
	limiter.Release("p")
}

func TestRateLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLLMRateLimiter(map[string]config.LLMRateLimitConfig{"p": {MaxConcurrent: 1}})
	require.NoError(t, limiter.Wait(context.Background(), "p", 1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx, "p", 1), context.Canceled)

	limiter.Release("p")
	assert.Equal(t, 0, limiter.InFlight("p"))
}

func TestRequestTokens(t *testing.T) {
	msgs := []Message{{Content: "12345678"}, {Content: "abcd"}}
	assert.Equal(t, 3, requestTokens(msgs, 0))
	assert.Equal(t, 103, requestTokens(msgs, 100))
	assert.Equal(t, 1, requestTokens(nil, -5))
}

func TestRateLimitedClient_NilLimiter(t *testing.T) {
	c := NewRateLimitedClient(&fakeClient{reply: "ok"}, nil)
	out, err := c.ChatWithContext(context.Background(), nil, GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
