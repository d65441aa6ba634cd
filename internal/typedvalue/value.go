// Package typedvalue decodes Firestore's self-describing tagged-union values
// into plain Go values.
//
// A tagged value populates exactly one of its typed slots. Both wire forms a
// function can receive - the protobuf Value carried by production events and
// the single-key JSON object used by local emulation - implement Source, so
// Decode never needs to know which form it was given.
//
// The populated slot is always read from an explicit discriminant. A Source
// must never infer "unset" from a zero scalar: integerValue 0, stringValue ""
// and booleanValue false are data, not Null.
package typedvalue

import "fmt"

// Kind identifies the populated variant of a tagged value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindTimestamp
	KindBytes
	KindReference
	KindGeoPoint
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindInt:       "int",
	KindDouble:    "double",
	KindString:    "string",
	KindTimestamp: "timestamp",
	KindBytes:     "bytes",
	KindReference: "reference",
	KindGeoPoint:  "geopoint",
	KindList:      "list",
	KindMap:       "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Source is a tagged value in some wire form.
//
// Unwrap reports the populated variant and its payload:
//   - KindNull: nil
//   - scalar kinds: bool, int64, float64, string, time.Time, []byte,
//     Reference or GeoPoint
//   - KindList: []Source in document order
//   - KindMap: map[string]Source
//
// An absent or unrecognised tag reports KindNull.
type Source interface {
	Unwrap() (Kind, any)
}

// Reference is a Firestore document reference, the full resource name of
// the referenced document.
type Reference string

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Decode converts src into a native value tree. It never fails: anything it
// cannot interpret becomes nil.
func Decode(src Source) any {
	if src == nil {
		return nil
	}

	kind, payload := src.Unwrap()
	switch kind {
	case KindNull:
		return nil
	case KindList:
		items, _ := payload.([]Source)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = Decode(item)
		}
		return out
	case KindMap:
		fields, _ := payload.(map[string]Source)
		return DecodeFields(fields)
	default:
		return payload
	}
}

// DecodeFields decodes every field of a document or map value. The result
// has exactly the keys of fields; a nil input yields an empty map.
func DecodeFields(fields map[string]Source) map[string]any {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		out[name] = Decode(v)
	}
	return out
}
