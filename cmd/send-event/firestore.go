package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/google/uuid"
	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"

	"orderpush/internal/typedvalue"
)

const firestoreEventPrefix = "google.cloud.firestore.document.v1."

type firestoreOptions struct {
	project    string
	database   string
	collection string
	docID      string
	fields     string
	kind       string
	format     string
}

func firestoreCmd(send sendFunc) *cobra.Command {
	opts := firestoreOptions{}
	cmd := &cobra.Command{
		Use:   "firestore",
		Short: "Send a Firestore document change event",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := buildFirestoreEvent(opts, time.Now())
			if err != nil {
				return err
			}
			return send(cmd, e)
		},
	}

	cmd.Flags().StringVar(&opts.project, "project", "local-project", "Project ID in the document name")
	cmd.Flags().StringVar(&opts.database, "database", "(default)", "Firestore database ID")
	cmd.Flags().StringVar(&opts.collection, "collection", "orders", "Parent collection")
	cmd.Flags().StringVar(&opts.docID, "doc", "", "Document ID (random when empty)")
	cmd.Flags().StringVar(&opts.fields, "fields", "{}", "Document body as a JSON object")
	cmd.Flags().StringVar(&opts.kind, "kind", "created", "Change kind: created, updated or deleted")
	cmd.Flags().StringVar(&opts.format, "format", "proto", "Payload encoding: proto or json")

	return cmd
}

func buildFirestoreEvent(opts firestoreOptions, now time.Time) (event.Event, error) {
	if opts.docID == "" {
		opts.docID = uuid.NewString()
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(opts.fields)))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return event.Event{}, fmt.Errorf("parsing --fields: %w", err)
	}

	database := fmt.Sprintf("projects/%s/databases/%s", opts.project, opts.database)
	docPath := "documents/" + opts.collection + "/" + opts.docID
	name := database + "/" + docPath

	var (
		contentType string
		data        []byte
		err         error
	)
	switch opts.format {
	case "proto":
		contentType = "application/protobuf"
		data, err = protoChange(opts.kind, name, fields, now)
	case "json":
		contentType = "application/json"
		data, err = jsonChange(opts.kind, name, fields, now)
	default:
		return event.Event{}, fmt.Errorf("unknown format %q", opts.format)
	}
	if err != nil {
		return event.Event{}, err
	}

	e := event.New()
	e.SetID(uuid.NewString())
	e.SetType(firestoreEventPrefix + opts.kind)
	e.SetSource("//firestore.googleapis.com/" + database)
	e.SetSubject(docPath)
	e.SetTime(now)
	if err := e.SetData(contentType, data); err != nil {
		return event.Event{}, err
	}
	return e, nil
}

func protoChange(kind, name string, fields map[string]any, now time.Time) ([]byte, error) {
	pf, err := typedvalue.ToProtoFields(fields)
	if err != nil {
		return nil, err
	}
	doc := &firestoredata.Document{
		Name:       name,
		Fields:     pf,
		CreateTime: timestamppb.New(now),
		UpdateTime: timestamppb.New(now),
	}

	var msg firestoredata.DocumentEventData
	switch kind {
	case "created":
		msg.Value = doc
	case "updated":
		msg.Value, msg.OldValue = doc, doc
	case "deleted":
		msg.OldValue = doc
	default:
		return nil, fmt.Errorf("unknown change kind %q", kind)
	}
	return proto.Marshal(&msg)
}

func jsonChange(kind, name string, fields map[string]any, now time.Time) ([]byte, error) {
	jf, err := typedvalue.ToJSONFields(fields)
	if err != nil {
		return nil, err
	}
	ts := now.UTC().Format(time.RFC3339Nano)
	doc := map[string]any{
		"name":       name,
		"fields":     jf,
		"createTime": ts,
		"updateTime": ts,
	}

	body := map[string]any{}
	switch kind {
	case "created":
		body["value"] = doc
	case "updated":
		body["value"], body["oldValue"] = doc, doc
	case "deleted":
		body["oldValue"] = doc
	default:
		return nil, fmt.Errorf("unknown change kind %q", kind)
	}
	return json.Marshal(body)
}
