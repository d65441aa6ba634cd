// Package envelope parses Firestore document-change payloads in either of
// the two wire forms a function receives: the protobuf DocumentEventData
// sent by the platform, or the equivalent JSON object used when emulating
// events locally.
package envelope

import (
	"time"

	"orderpush/internal/typedvalue"
)

// ChangeKind classifies a document change by which snapshots are present.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// Document is a single document snapshot. Fields are left undecoded so the
// caller decides when to pay for decoding.
type Document struct {
	Name       string
	Fields     map[string]typedvalue.Source
	CreateTime time.Time
	UpdateTime time.Time
}

// Decode returns the document body as native values.
func (d *Document) Decode() map[string]any {
	if d == nil {
		return map[string]any{}
	}
	return typedvalue.DecodeFields(d.Fields)
}

// DocumentEvent is a parsed change: Value is the snapshot after the change
// and OldValue the one before. A nil snapshot means absent.
type DocumentEvent struct {
	Value    *Document
	OldValue *Document
}

// Kind reports whether the event is a create, update or delete.
func (e *DocumentEvent) Kind() ChangeKind {
	switch {
	case e.Value != nil && e.OldValue == nil:
		return ChangeCreated
	case e.Value != nil:
		return ChangeUpdated
	default:
		return ChangeDeleted
	}
}

// Current returns the snapshot that names the changed document: the new
// value, or the old one for deletes.
func (e *DocumentEvent) Current() *Document {
	if e.Value != nil {
		return e.Value
	}
	return e.OldValue
}
