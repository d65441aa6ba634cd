package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"orderpush/internal/pubsub"
)

type orderOptions struct {
	project      string
	topic        string
	subscription string
	messageID    string
	encoding     string
}

func orderCmd(send sendFunc) *cobra.Command {
	opts := orderOptions{}
	cmd := &cobra.Command{
		Use:   "order [json]",
		Short: "Send a Pub/Sub order message event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildOrderEvent(opts, []byte(args[0]), time.Now())
			if err != nil {
				return err
			}
			return send(cmd, e)
		},
	}

	cmd.Flags().StringVar(&opts.project, "project", "local-project", "Project ID")
	cmd.Flags().StringVar(&opts.topic, "topic", "orders", "Topic ID")
	cmd.Flags().StringVar(&opts.subscription, "subscription", "orders-push", "Subscription ID")
	cmd.Flags().StringVar(&opts.messageID, "message-id", "", "Message ID (random when empty)")
	cmd.Flags().StringVar(&opts.encoding, "encoding", "", "Payload content-encoding: gzip or zstd")

	return cmd
}

func buildOrderEvent(opts orderOptions, body []byte, now time.Time) (event.Event, error) {
	if opts.messageID == "" {
		opts.messageID = uuid.NewString()
	}

	data, err := compress(opts.encoding, body)
	if err != nil {
		return event.Event{}, err
	}

	message := map[string]any{
		"data":        base64.StdEncoding.EncodeToString(data),
		"messageId":   opts.messageID,
		"publishTime": now.UTC().Format(time.RFC3339Nano),
	}
	if opts.encoding != "" {
		message["attributes"] = map[string]string{pubsub.ContentEncodingAttribute: opts.encoding}
	}
	envelope, err := json.Marshal(map[string]any{
		"message":      message,
		"subscription": fmt.Sprintf("projects/%s/subscriptions/%s", opts.project, opts.subscription),
	})
	if err != nil {
		return event.Event{}, err
	}

	e := event.New()
	e.SetID(opts.messageID)
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource(fmt.Sprintf("//pubsub.googleapis.com/projects/%s/topics/%s", opts.project, opts.topic))
	e.SetTime(now)
	if err := e.SetData("application/json", envelope); err != nil {
		return event.Event{}, err
	}
	return e, nil
}

func compress(encoding string, body []byte) ([]byte, error) {
	switch encoding {
	case "", "identity":
		return body, nil
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	}
	return nil, fmt.Errorf("unknown encoding %q", encoding)
}
