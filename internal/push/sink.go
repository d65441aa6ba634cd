// Package push delivers notifications to the push messaging service.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pusher/pusher-http-go/v5"
	"golang.org/x/time/rate"

	"orderpush/internal/types"
)

// Sink delivers one event with a JSON-serializable payload to a channel.
type Sink interface {
	Trigger(ctx context.Context, channel, event string, payload any) error
}

// PusherConfig configures a PusherSink.
type PusherConfig struct {
	AppID   string
	Key     string
	Secret  types.SecretString
	Cluster string
	// Host overrides the cluster endpoint, e.g. for a local test server.
	Host string
	// Insecure sends plain HTTP; only meaningful together with Host.
	Insecure bool

	// RatePerSec bounds triggers per second from this instance; zero or
	// less disables client-side limiting.
	RatePerSec int

	HTTPClient *http.Client
	Logger     types.Logger
}

// PusherSink triggers events through the Pusher Channels HTTP API.
type PusherSink struct {
	client  *pusher.Client
	limiter *rate.Limiter
	logger  types.Logger
}

// NewPusherSink creates a PusherSink.
func NewPusherSink(cfg PusherConfig) *PusherSink {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &PusherSink{
		client: &pusher.Client{
			AppID:      cfg.AppID,
			Key:        cfg.Key,
			Secret:     cfg.Secret.Unmask(),
			Cluster:    cfg.Cluster,
			Host:       cfg.Host,
			Secure:     !cfg.Insecure,
			HTTPClient: cfg.HTTPClient,
		},
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

// Trigger implements Sink. It waits for the client-side limiter first, so a
// cancelled ctx aborts before any request is sent.
func (s *PusherSink) Trigger(ctx context.Context, channel, event string, payload any) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamPush, "push: waiting for rate limiter", err)
	}

	if err := s.client.Trigger(channel, event, payload); err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return err
		}
		return types.NewAppError(types.ErrCodeUpstreamPush, "push: trigger failed", err).
			WithDetails(map[string]any{"channel": channel, "event": event})
	}

	if s.logger != nil {
		s.logger.Info("push triggered", "channel", channel, "event", event)
	}
	return nil
}

// LogSink logs events instead of delivering them. Used in local and test
// mode when no push credentials are configured.
type LogSink struct {
	logger types.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger types.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Trigger implements Sink.
func (s *LogSink) Trigger(ctx context.Context, channel, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "push: payload is not serializable", err)
	}
	s.logger.Info("stub: push trigger",
		"channel", channel,
		"event", event,
		"payload", string(data),
	)
	return nil
}
