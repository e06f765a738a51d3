package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"linerelay/pkg/config"

	"github.com/stretchr/testify/require"
)

type lineReply struct {
	ReplyToken string `json:"replyToken"`
	Messages   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"messages"`
}

type fakeLineAPI struct {
	mu      sync.Mutex
	replies []lineReply
}

func (a *fakeLineAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var reply lineReply
	_ = json.NewDecoder(r.Body).Decode(&reply)

	a.mu.Lock()
	a.replies = append(a.replies, reply)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"sentMessages":[{"id":"1","quoteToken":"q"}]}`)
}

func (a *fakeLineAPI) byToken() map[string]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := map[string]string{}
	for _, reply := range a.replies {
		if len(reply.Messages) > 0 {
			out[reply.ReplyToken] = reply.Messages[0].Text
		}
	}
	return out
}

func fakeOpenAI(t *testing.T, release <-chan struct{}) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		user := ""
		if len(req.Messages) > 0 {
			user = req.Messages[len(req.Messages)-1].Content
		}

		if release != nil {
			<-release
		}

		if user == "boom" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"bad request from upstream","type":"invalid_request_error"}}`)
			return
		}

		payload, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-e2e",
			"object":  "chat.completion",
			"created": 1,
			"model":   config.DefaultModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"logprobs":      nil,
				"message":       map[string]any{"role": "assistant", "content": "answer to " + user, "refusal": nil},
			}},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

type runningService struct {
	svc     *Service
	baseURL string
	cancel  context.CancelFunc
	errCh   chan error
}

func startService(t *testing.T, cfg *config.Config) *runningService {
	t.Helper()

	deps, err := BuildDependencies(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	svc, err := NewService(ctx, cfg, deps, nil)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	running := &runningService{
		svc:     svc,
		baseURL: "http://" + listener.Addr().String(),
		cancel:  cancel,
		errCh:   make(chan error, 1),
	}
	go func() {
		running.errCh <- svc.serve(ctx, listener)
	}()
	t.Cleanup(cancel)

	return running
}

func (r *runningService) stop(t *testing.T) {
	t.Helper()

	r.cancel()
	select {
	case err := <-r.errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for service to stop")
	}
}

func postSigned(t *testing.T, url string, secret string, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Line-Signature", lineSignature(secret, body))

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func e2eConfig(lineURL string, openaiURL string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", ShutdownTimeoutSeconds: 5},
		Line: config.LineConfig{
			ChannelAccessToken: "line-token",
			ChannelSecret:      "line-secret",
			APIEndpoint:        lineURL,
		},
		OpenAI: config.OpenAIConfig{
			APIKey:    "sk-test",
			BaseURL:   openaiURL + "/v1/",
			Model:     config.DefaultModel,
			MaxTokens: config.DefaultMaxTokens,
		},
	}
}

func TestGatewayE2EAcknowledgesThenReplies(t *testing.T) {
	lineAPI := &fakeLineAPI{}
	lineServer := httptest.NewServer(lineAPI)
	t.Cleanup(lineServer.Close)

	release := make(chan struct{})
	openaiServer := fakeOpenAI(t, release)

	running := startService(t, e2eConfig(lineServer.URL, openaiServer.URL))

	body := `{"destination":"U0","events":[` +
		`{"type":"message","replyToken":"r-text","source":{"type":"user","userId":"U1"},"message":{"id":"1","type":"text","text":"hello"}},` +
		`{"type":"message","replyToken":"r-sticker","message":{"id":"2","type":"sticker"}},` +
		`{"type":"message","replyToken":"r-boom","message":{"id":"3","type":"text","text":"boom"}}]}`

	resp := postSigned(t, running.baseURL+"/webhook", "line-secret", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "OK", string(raw))
	require.NotEmpty(t, resp.Header.Get(requestIDHeader))

	require.Empty(t, lineAPI.byToken())
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, running.svc.Wait(ctx))

	replies := lineAPI.byToken()
	require.Len(t, replies, 2)
	require.Equal(t, "answer to hello", replies["r-text"])
	require.Equal(t, "發生錯誤：bad request from upstream", replies["r-boom"])

	running.stop(t)
}

func TestGatewayE2ERejectsBadSignature(t *testing.T) {
	lineAPI := &fakeLineAPI{}
	lineServer := httptest.NewServer(lineAPI)
	t.Cleanup(lineServer.Close)
	openaiServer := fakeOpenAI(t, nil)

	running := startService(t, e2eConfig(lineServer.URL, openaiServer.URL))

	body := `{"events":[{"type":"message","replyToken":"r1","message":{"type":"text","text":"hello"}}]}`
	resp := postSigned(t, running.baseURL+"/webhook", "wrong-secret", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	running.stop(t)
	require.Empty(t, lineAPI.byToken())
}

func TestGatewayE2EShutdownDrainsInflightEvents(t *testing.T) {
	lineAPI := &fakeLineAPI{}
	lineServer := httptest.NewServer(lineAPI)
	t.Cleanup(lineServer.Close)

	release := make(chan struct{})
	openaiServer := fakeOpenAI(t, release)

	running := startService(t, e2eConfig(lineServer.URL, openaiServer.URL))

	body := `{"events":[{"type":"message","replyToken":"r-late","message":{"type":"text","text":"slow"}}]}`
	resp := postSigned(t, running.baseURL+"/webhook", "line-secret", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()
	running.stop(t)

	require.Equal(t, map[string]string{"r-late": "answer to slow"}, lineAPI.byToken())
}
