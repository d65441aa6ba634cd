package typedvalue

import (
	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
)

// protoValue is the binary wire form. The generated oneof wrapper type is
// the discriminant.
type protoValue struct {
	v *firestoredata.Value
}

// FromProto wraps a protobuf Firestore value. A nil value unwraps to Null.
func FromProto(v *firestoredata.Value) Source {
	return protoValue{v: v}
}

// FromProtoFields wraps every field of a protobuf document or map value.
func FromProtoFields(fields map[string]*firestoredata.Value) map[string]Source {
	out := make(map[string]Source, len(fields))
	for name, v := range fields {
		out[name] = FromProto(v)
	}
	return out
}

func (p protoValue) Unwrap() (Kind, any) {
	switch t := p.v.GetValueType().(type) {
	case *firestoredata.Value_NullValue:
		return KindNull, nil
	case *firestoredata.Value_BooleanValue:
		return KindBool, t.BooleanValue
	case *firestoredata.Value_IntegerValue:
		return KindInt, t.IntegerValue
	case *firestoredata.Value_DoubleValue:
		return KindDouble, t.DoubleValue
	case *firestoredata.Value_StringValue:
		return KindString, t.StringValue
	case *firestoredata.Value_TimestampValue:
		return KindTimestamp, t.TimestampValue.AsTime()
	case *firestoredata.Value_BytesValue:
		return KindBytes, t.BytesValue
	case *firestoredata.Value_ReferenceValue:
		return KindReference, Reference(t.ReferenceValue)
	case *firestoredata.Value_GeoPointValue:
		return KindGeoPoint, GeoPoint{
			Latitude:  t.GeoPointValue.GetLatitude(),
			Longitude: t.GeoPointValue.GetLongitude(),
		}
	case *firestoredata.Value_ArrayValue:
		values := t.ArrayValue.GetValues()
		items := make([]Source, len(values))
		for i, v := range values {
			items[i] = FromProto(v)
		}
		return KindList, items
	case *firestoredata.Value_MapValue:
		return KindMap, FromProtoFields(t.MapValue.GetFields())
	default:
		return KindNull, nil
	}
}
