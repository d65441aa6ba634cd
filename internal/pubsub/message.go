// Package pubsub extracts the application payload from a Pub/Sub push
// envelope as delivered to a CloudEvent function.
//
// Accepted shapes:
//
//	{"message": {"data": "<base64>", "messageId": "...", "attributes": {...}}, "subscription": "..."}
//	{"data": "<base64>", "attributes": {...}}
//
// The payload may be compressed; the "content-encoding" attribute names the
// codec (zstd or gzip).
package pubsub

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"orderpush/internal/types"
)

// DefaultMaxBytes bounds the decoded payload when no limit is configured.
const DefaultMaxBytes = 1 << 20

// ContentEncodingAttribute names the attribute that declares payload
// compression.
const ContentEncodingAttribute = "content-encoding"

// Message is a decoded Pub/Sub message.
type Message struct {
	ID           string
	Data         []byte
	Attributes   map[string]string
	PublishTime  time.Time
	OrderingKey  string
	Subscription string
}

type wireMessage struct {
	Data           *string           `json:"data"`
	MessageID      string            `json:"messageId"`
	MessageIDAlt   string            `json:"message_id"`
	Attributes     map[string]string `json:"attributes"`
	PublishTime    string            `json:"publishTime"`
	PublishTimeAlt string            `json:"publish_time"`
	OrderingKey    string            `json:"orderingKey"`
}

type wireEnvelope struct {
	Message      *wireMessage `json:"message"`
	Subscription string       `json:"subscription"`
	wireMessage
}

// Extractor decodes push envelopes. Safe for concurrent use.
type Extractor struct {
	maxBytes int

	// decoderPool provides reusable zstd decoders.
	decoderPool sync.Pool
}

// NewExtractor creates an Extractor that rejects payloads whose decoded
// size exceeds maxBytes. Zero or less uses DefaultMaxBytes.
func NewExtractor(maxBytes int) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	e := &Extractor{maxBytes: maxBytes}
	e.decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderMaxMemory(uint64(maxBytes)),
			)
			if err != nil {
				// This should never fail with nil input and valid options.
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
	return e
}

// MaxBytes returns the decoded payload limit.
func (e *Extractor) MaxBytes() int { return e.maxBytes }

// Extract decodes data into a Message. Every failure is a
// validation_message_malformed AppError: a broken envelope never becomes
// valid on retry.
func (e *Extractor) Extract(data []byte) (Message, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Message{}, malformed("envelope is empty", nil)
	}

	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, malformed("envelope is not a JSON object", err)
	}

	wm := env.wireMessage
	if env.Message != nil {
		wm = *env.Message
	}
	if wm.Data == nil || *wm.Data == "" {
		return Message{}, malformed("envelope is missing message.data", nil)
	}

	raw, err := decodeBase64(*wm.Data)
	if err != nil {
		return Message{}, malformed("message.data is not base64", err)
	}

	payload, err := e.decompress(wm.Attributes[ContentEncodingAttribute], raw)
	if err != nil {
		return Message{}, err
	}
	if len(payload) > e.maxBytes {
		return Message{}, tooLarge(len(payload), e.maxBytes)
	}

	msg := Message{
		ID:           firstNonEmpty(wm.MessageID, wm.MessageIDAlt),
		Data:         payload,
		Attributes:   wm.Attributes,
		OrderingKey:  wm.OrderingKey,
		Subscription: env.Subscription,
	}
	if ts := firstNonEmpty(wm.PublishTime, wm.PublishTimeAlt); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			msg.PublishTime = t.UTC()
		}
	}
	return msg, nil
}

func (e *Extractor) decompress(encoding string, data []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return data, nil
	case "zstd":
		return e.decompressZstd(data)
	case "gzip":
		return e.decompressGzip(data)
	default:
		return nil, malformed(fmt.Sprintf("unsupported content-encoding %q", encoding), nil)
	}
}

// decompressZstd decompresses zstd-compressed data using pooled decoders.
func (e *Extractor) decompressZstd(data []byte) ([]byte, error) {
	decoder := e.decoderPool.Get().(*zstd.Decoder)
	defer e.decoderPool.Put(decoder)

	result, err := decoder.DecodeAll(data, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
			return nil, tooLarge(-1, e.maxBytes)
		}
		return nil, malformed("zstd decompression failed", err)
	}
	return result, nil
}

func (e *Extractor) decompressGzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, malformed("gzip decompression failed", err)
	}
	defer r.Close()

	result, err := io.ReadAll(io.LimitReader(r, int64(e.maxBytes)+1))
	if err != nil {
		return nil, malformed("gzip decompression failed", err)
	}
	if len(result) > e.maxBytes {
		return nil, tooLarge(-1, e.maxBytes)
	}
	return result, nil
}

// decodeBase64 strips whitespace, which some publishers wrap into long
// payloads, and accepts standard or URL-safe alphabets.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b, urlErr := base64.URLEncoding.DecodeString(s); urlErr == nil {
		return b, nil
	}
	if b, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return b, nil
	}
	return nil, err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func malformed(msg string, err error) error {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return types.NewAppError(types.ErrCodeMessageMalformed, msg, err)
}

func tooLarge(size, limit int) error {
	details := map[string]any{"limit_bytes": limit}
	if size >= 0 {
		details["size_bytes"] = size
	}
	return types.NewAppError(types.ErrCodeMessageMalformed, "message payload exceeds size limit", nil).
		WithDetails(details)
}
