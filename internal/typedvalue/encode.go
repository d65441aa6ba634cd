package typedvalue

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"google.golang.org/genproto/googleapis/type/latlng"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ToProto encodes a native value tree into the protobuf wire form. It is the
// inverse of Decode(FromProto(v)) for every type Decode produces.
func ToProto(v any) (*firestoredata.Value, error) {
	switch t := v.(type) {
	case nil:
		return &firestoredata.Value{ValueType: &firestoredata.Value_NullValue{}}, nil
	case bool:
		return &firestoredata.Value{ValueType: &firestoredata.Value_BooleanValue{BooleanValue: t}}, nil
	case int:
		return intValue(int64(t)), nil
	case int32:
		return intValue(int64(t)), nil
	case int64:
		return intValue(t), nil
	case float32:
		return doubleValue(float64(t)), nil
	case float64:
		return doubleValue(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return intValue(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("typedvalue: invalid number %q: %w", t, err)
		}
		return doubleValue(f), nil
	case string:
		return &firestoredata.Value{ValueType: &firestoredata.Value_StringValue{StringValue: t}}, nil
	case time.Time:
		return &firestoredata.Value{ValueType: &firestoredata.Value_TimestampValue{TimestampValue: timestamppb.New(t)}}, nil
	case []byte:
		return &firestoredata.Value{ValueType: &firestoredata.Value_BytesValue{BytesValue: t}}, nil
	case Reference:
		return &firestoredata.Value{ValueType: &firestoredata.Value_ReferenceValue{ReferenceValue: string(t)}}, nil
	case GeoPoint:
		return &firestoredata.Value{ValueType: &firestoredata.Value_GeoPointValue{
			GeoPointValue: &latlng.LatLng{Latitude: t.Latitude, Longitude: t.Longitude},
		}}, nil
	case []any:
		values := make([]*firestoredata.Value, len(t))
		for i, item := range t {
			pv, err := ToProto(item)
			if err != nil {
				return nil, fmt.Errorf("typedvalue: list index %d: %w", i, err)
			}
			values[i] = pv
		}
		return &firestoredata.Value{ValueType: &firestoredata.Value_ArrayValue{
			ArrayValue: &firestoredata.ArrayValue{Values: values},
		}}, nil
	case map[string]any:
		fields, err := ToProtoFields(t)
		if err != nil {
			return nil, err
		}
		return &firestoredata.Value{ValueType: &firestoredata.Value_MapValue{
			MapValue: &firestoredata.MapValue{Fields: fields},
		}}, nil
	default:
		return nil, fmt.Errorf("typedvalue: unsupported type %T", v)
	}
}

// ToProtoFields encodes a document body.
func ToProtoFields(fields map[string]any) (map[string]*firestoredata.Value, error) {
	out := make(map[string]*firestoredata.Value, len(fields))
	for name, v := range fields {
		pv, err := ToProto(v)
		if err != nil {
			return nil, fmt.Errorf("typedvalue: field %q: %w", name, err)
		}
		out[name] = pv
	}
	return out, nil
}

// ToJSON encodes a native value tree into the single-key JSON form accepted
// by FromJSON. Integers are emitted as decimal strings and non-finite
// doubles by name, following the proto3 JSON mapping.
func ToJSON(v any) (any, error) {
	switch t := v.(type) {
	case nil:
		return map[string]any{"nullValue": nil}, nil
	case bool:
		return map[string]any{"booleanValue": t}, nil
	case int:
		return jsonIntValue(int64(t)), nil
	case int32:
		return jsonIntValue(int64(t)), nil
	case int64:
		return jsonIntValue(t), nil
	case float32:
		return jsonDoubleValue(float64(t)), nil
	case float64:
		return jsonDoubleValue(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return jsonIntValue(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("typedvalue: invalid number %q: %w", t, err)
		}
		return jsonDoubleValue(f), nil
	case string:
		return map[string]any{"stringValue": t}, nil
	case time.Time:
		return map[string]any{"timestampValue": t.UTC().Format(time.RFC3339Nano)}, nil
	case []byte:
		return map[string]any{"bytesValue": base64.StdEncoding.EncodeToString(t)}, nil
	case Reference:
		return map[string]any{"referenceValue": string(t)}, nil
	case GeoPoint:
		return map[string]any{"geoPointValue": map[string]any{
			"latitude":  t.Latitude,
			"longitude": t.Longitude,
		}}, nil
	case []any:
		values := make([]any, len(t))
		for i, item := range t {
			jv, err := ToJSON(item)
			if err != nil {
				return nil, fmt.Errorf("typedvalue: list index %d: %w", i, err)
			}
			values[i] = jv
		}
		return map[string]any{"arrayValue": map[string]any{"values": values}}, nil
	case map[string]any:
		fields, err := ToJSONFields(t)
		if err != nil {
			return nil, err
		}
		return map[string]any{"mapValue": map[string]any{"fields": fields}}, nil
	default:
		return nil, fmt.Errorf("typedvalue: unsupported type %T", v)
	}
}

// ToJSONFields encodes a document body into the JSON form.
func ToJSONFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		jv, err := ToJSON(v)
		if err != nil {
			return nil, fmt.Errorf("typedvalue: field %q: %w", name, err)
		}
		out[name] = jv
	}
	return out, nil
}

func intValue(n int64) *firestoredata.Value {
	return &firestoredata.Value{ValueType: &firestoredata.Value_IntegerValue{IntegerValue: n}}
}

func doubleValue(f float64) *firestoredata.Value {
	return &firestoredata.Value{ValueType: &firestoredata.Value_DoubleValue{DoubleValue: f}}
}

func jsonIntValue(n int64) map[string]any {
	return map[string]any{"integerValue": strconv.FormatInt(n, 10)}
}

func jsonDoubleValue(f float64) map[string]any {
	switch {
	case math.IsNaN(f):
		return map[string]any{"doubleValue": "NaN"}
	case math.IsInf(f, 1):
		return map[string]any{"doubleValue": "Infinity"}
	case math.IsInf(f, -1):
		return map[string]any{"doubleValue": "-Infinity"}
	}
	return map[string]any{"doubleValue": f}
}
