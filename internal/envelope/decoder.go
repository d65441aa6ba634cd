package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"google.golang.org/protobuf/proto"

	"orderpush/internal/typedvalue"
	"orderpush/internal/types"
)

// Content types the platform and the local tooling use.
const (
	ContentTypeProtobuf = "application/protobuf"
	ContentTypeJSON     = "application/json"
)

// Decoder turns raw event data into a DocumentEvent.
type Decoder interface {
	Decode(data []byte) (*DocumentEvent, error)
}

// ProtoDecoder decodes the binary DocumentEventData form.
type ProtoDecoder struct{}

// Decode implements Decoder.
func (ProtoDecoder) Decode(data []byte) (*DocumentEvent, error) {
	var msg firestoredata.DocumentEventData
	if err := (proto.UnmarshalOptions{DiscardUnknown: true}).Unmarshal(data, &msg); err != nil {
		return nil, malformed("payload is not a protobuf DocumentEventData", err)
	}

	evt := &DocumentEvent{
		Value:    fromProtoDocument(msg.GetValue()),
		OldValue: fromProtoDocument(msg.GetOldValue()),
	}
	if evt.Value == nil && evt.OldValue == nil {
		return nil, malformed("payload carries neither value nor oldValue", nil)
	}
	return evt, nil
}

// fromProtoDocument treats an empty message like an absent one; some
// emitters serialize an unset snapshot as a zero-length submessage.
func fromProtoDocument(d *firestoredata.Document) *Document {
	if d == nil || (d.GetName() == "" && len(d.GetFields()) == 0) {
		return nil
	}
	doc := &Document{
		Name:   d.GetName(),
		Fields: typedvalue.FromProtoFields(d.GetFields()),
	}
	if d.GetCreateTime() != nil {
		doc.CreateTime = d.GetCreateTime().AsTime()
	}
	if d.GetUpdateTime() != nil {
		doc.UpdateTime = d.GetUpdateTime().AsTime()
	}
	return doc
}

// JSONDecoder decodes the local-emulation form:
//
//	{"value": {"name": "...", "fields": {"k": {"stringValue": "v"}}}, "oldValue": null}
type JSONDecoder struct{}

type jsonDocument struct {
	Name       string         `json:"name"`
	Fields     map[string]any `json:"fields"`
	CreateTime string         `json:"createTime"`
	UpdateTime string         `json:"updateTime"`
}

type jsonEnvelope struct {
	Value         *jsonDocument `json:"value"`
	OldValue      *jsonDocument `json:"oldValue"`
	OldValueSnake *jsonDocument `json:"old_value"`
}

// Decode implements Decoder.
func (JSONDecoder) Decode(data []byte) (*DocumentEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var env jsonEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, malformed("payload is not a JSON document event", err)
	}

	old := env.OldValue
	if old == nil {
		old = env.OldValueSnake
	}
	evt := &DocumentEvent{
		Value:    fromJSONDocument(env.Value),
		OldValue: fromJSONDocument(old),
	}
	if evt.Value == nil && evt.OldValue == nil {
		return nil, malformed("payload carries neither value nor oldValue", nil)
	}
	return evt, nil
}

func fromJSONDocument(d *jsonDocument) *Document {
	if d == nil || (d.Name == "" && len(d.Fields) == 0) {
		return nil
	}
	return &Document{
		Name:       d.Name,
		Fields:     typedvalue.FromJSONFields(d.Fields),
		CreateTime: parseTime(d.CreateTime),
		UpdateTime: parseTime(d.UpdateTime),
	}
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// Select picks a decoder from the declared content type. When the type is
// missing or unknown the payload is probed: a JSON object starts with '{'
// after optional whitespace, which is never the first byte of a
// DocumentEventData message.
func Select(contentType string, data []byte) Decoder {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mediaType == ContentTypeProtobuf, mediaType == "application/x-protobuf":
			return ProtoDecoder{}
		case mediaType == ContentTypeJSON, strings.HasSuffix(mediaType, "+json"):
			return JSONDecoder{}
		}
	}
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return JSONDecoder{}
	}
	return ProtoDecoder{}
}

// Parse selects a decoder and decodes data with it.
func Parse(contentType string, data []byte) (*DocumentEvent, error) {
	if len(data) == 0 {
		return nil, malformed("payload is empty", nil)
	}
	return Select(contentType, data).Decode(data)
}

func malformed(msg string, err error) error {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return types.NewAppError(types.ErrCodeEnvelopeMalformed, msg, err)
}
