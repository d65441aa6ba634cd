package push

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpush/internal/external"
	"orderpush/internal/types"
)

type recordingLogger struct {
	mu       sync.Mutex
	messages []string
	args     [][]any
}

func (l *recordingLogger) record(msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	l.args = append(l.args, args)
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record(msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record(msg, args) }
func (l *recordingLogger) With(args ...any) types.Logger { return l }

type triggerBody struct {
	Name     string   `json:"name"`
	Channels []string `json:"channels"`
	Data     string   `json:"data"`
}

// fakePusher serves the Pusher events endpoint and records triggers.
func fakePusher(t *testing.T, status int) (*httptest.Server, *[]triggerBody) {
	t.Helper()
	var mu sync.Mutex
	var got []triggerBody
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/apps/12345/events", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("auth_signature"))

		raw, _ := io.ReadAll(r.Body)
		var body triggerBody
		require.NoError(t, json.Unmarshal(raw, &body))
		mu.Lock()
		got = append(got, body)
		mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(`{}`))
	}))
	t.Cleanup(server.Close)
	return server, &got
}

func newTestSink(t *testing.T, serverURL string, ratePerSec int, logger types.Logger) *PusherSink {
	t.Helper()
	u, err := url.Parse(serverURL)
	require.NoError(t, err)

	transport := external.NewTransport("pusher-test",
		external.RetryPolicy{MaxRetries: 1, MinWait: time.Millisecond, MaxWait: time.Millisecond},
		"orderpush-test/1.0",
		external.WithSleepFunc(func(context.Context, time.Duration) error { return nil }),
	)
	return NewPusherSink(PusherConfig{
		AppID:      "12345",
		Key:        "key",
		Secret:     types.SecretString("secret"),
		Host:       u.Host,
		Insecure:   true,
		RatePerSec: ratePerSec,
		HTTPClient: external.NewHTTPClient(transport, 5*time.Second),
		Logger:     logger,
	})
}

func TestPusherSink_Trigger(t *testing.T) {
	server, got := fakePusher(t, http.StatusOK)
	logger := &recordingLogger{}
	sink := newTestSink(t, server.URL, 0, logger)

	payload := types.OrderNotification{ID: "ABC-123", Data: map[string]any{"totalOrder": 54.9}}
	require.NoError(t, sink.Trigger(context.Background(), "orders", "new-order", payload))

	require.Len(t, *got, 1)
	body := (*got)[0]
	assert.Equal(t, "new-order", body.Name)
	assert.Equal(t, []string{"orders"}, body.Channels)
	assert.JSONEq(t, `{"id":"ABC-123","data":{"totalOrder":54.9}}`, body.Data)
	assert.Contains(t, logger.messages, "push triggered")
}

func TestPusherSink_UpstreamFailureIsRetryable(t *testing.T) {
	server, got := fakePusher(t, http.StatusServiceUnavailable)
	sink := newTestSink(t, server.URL, 0, nil)

	err := sink.Trigger(context.Background(), "orders", "new-order", map[string]any{"id": "A"})
	require.Error(t, err)
	assert.Equal(t, types.OutcomeServerError, types.OutcomeOf(err))
	assert.Len(t, *got, 2, "one retry through the transport")
}

func TestPusherSink_RejectedRequest(t *testing.T) {
	server, _ := fakePusher(t, http.StatusForbidden)
	sink := newTestSink(t, server.URL, 0, nil)

	err := sink.Trigger(context.Background(), "orders", "new-order", map[string]any{"id": "A"})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamPush, types.CodeOf(err))
}

func TestPusherSink_CancelledContext(t *testing.T) {
	server, got := fakePusher(t, http.StatusOK)
	sink := newTestSink(t, server.URL, 1, nil)

	// Drain the single token so the next Wait has to block.
	require.NoError(t, sink.Trigger(context.Background(), "orders", "new-order", map[string]any{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Trigger(ctx, "orders", "new-order", map[string]any{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamPush, types.CodeOf(err))
	assert.Len(t, *got, 1)
}

func TestLogSink(t *testing.T) {
	logger := &recordingLogger{}
	sink := NewLogSink(logger)

	require.NoError(t, sink.Trigger(context.Background(), "orders", "new-order", map[string]any{"id": "A"}))
	require.Len(t, logger.messages, 1)
	assert.Equal(t, "stub: push trigger", logger.messages[0])
	assert.Contains(t, logger.args[0], `{"id":"A"}`)

	err := sink.Trigger(context.Background(), "orders", "new-order", map[string]any{"bad": math.NaN()})
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeInternalUnexpected, types.CodeOf(err))
}
