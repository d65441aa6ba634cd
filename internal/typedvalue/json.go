package typedvalue

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// jsonValue is the local-emulation wire form: an object with exactly one key
// naming the variant, e.g. {"integerValue": "0"}. Values that are not
// objects are treated as already-native scalars, and objects with no
// variant key as plain maps. A single unrecognised "...Value" key or a
// variant key mixed with other keys decodes to Null.
//
// raw must come from encoding/json; decoders should enable UseNumber so
// integers keep full int64 precision.
type jsonValue struct {
	raw any
}

// FromJSON wraps a decoded JSON value.
func FromJSON(raw any) Source {
	return jsonValue{raw: raw}
}

// FromJSONFields wraps every entry of a JSON "fields" object.
func FromJSONFields(fields map[string]any) map[string]Source {
	out := make(map[string]Source, len(fields))
	for name, v := range fields {
		out[name] = FromJSON(v)
	}
	return out
}

// jsonTags maps both the proto3 JSON names and the original field names.
var jsonTags = map[string]Kind{
	"nullValue":       KindNull,
	"null_value":      KindNull,
	"booleanValue":    KindBool,
	"boolean_value":   KindBool,
	"integerValue":    KindInt,
	"integer_value":   KindInt,
	"doubleValue":     KindDouble,
	"double_value":    KindDouble,
	"stringValue":     KindString,
	"string_value":    KindString,
	"timestampValue":  KindTimestamp,
	"timestamp_value": KindTimestamp,
	"bytesValue":      KindBytes,
	"bytes_value":     KindBytes,
	"referenceValue":  KindReference,
	"reference_value": KindReference,
	"geoPointValue":   KindGeoPoint,
	"geo_point_value": KindGeoPoint,
	"arrayValue":      KindList,
	"array_value":     KindList,
	"mapValue":        KindMap,
	"map_value":       KindMap,
}

func (j jsonValue) Unwrap() (Kind, any) {
	obj, ok := j.raw.(map[string]any)
	if !ok {
		return unwrapNative(j.raw)
	}
	if len(obj) == 1 {
		for tag, v := range obj {
			if kind, known := jsonTags[tag]; known {
				return unwrapTagged(kind, v)
			}
			if looksLikeTag(tag) {
				return KindNull, nil
			}
		}
	}
	for key := range obj {
		if _, known := jsonTags[key]; known {
			// More than one key alongside a tag: not a valid wrapper.
			return KindNull, nil
		}
	}
	return KindMap, FromJSONFields(obj)
}

// looksLikeTag reports whether key is shaped like a variant name, so an
// unrecognised variant decodes to Null instead of a one-entry map.
func looksLikeTag(key string) bool {
	return strings.HasSuffix(key, "Value") || strings.HasSuffix(key, "_value")
}

// unwrapTagged converts the payload of an explicitly tagged value. A payload
// whose JSON type cannot represent the tagged kind yields Null.
func unwrapTagged(kind Kind, v any) (Kind, any) {
	switch kind {
	case KindBool:
		if b, ok := v.(bool); ok {
			return KindBool, b
		}
	case KindInt:
		if n, ok := jsonInt(v); ok {
			return KindInt, n
		}
	case KindDouble:
		if f, ok := jsonFloat(v); ok {
			return KindDouble, f
		}
	case KindString:
		if s, ok := v.(string); ok {
			return KindString, s
		}
	case KindTimestamp:
		if ts, ok := jsonTime(v); ok {
			return KindTimestamp, ts
		}
	case KindBytes:
		if s, ok := v.(string); ok {
			if b, err := decodeBase64(s); err == nil {
				return KindBytes, b
			}
		}
	case KindReference:
		if s, ok := v.(string); ok {
			return KindReference, Reference(s)
		}
	case KindGeoPoint:
		if obj, ok := v.(map[string]any); ok {
			lat, _ := jsonFloat(obj["latitude"])
			lng, _ := jsonFloat(obj["longitude"])
			return KindGeoPoint, GeoPoint{Latitude: lat, Longitude: lng}
		}
	case KindList:
		return KindList, jsonList(v)
	case KindMap:
		return KindMap, jsonMap(v)
	}
	return KindNull, nil
}

// unwrapNative handles fields given as plain JSON values instead of tagged
// objects. The JSON type is the discriminant.
func unwrapNative(v any) (Kind, any) {
	switch t := v.(type) {
	case bool:
		return KindBool, t
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return KindInt, n
		}
		if f, err := t.Float64(); err == nil {
			return KindDouble, f
		}
	case float64:
		return KindDouble, t
	case string:
		return KindString, t
	case []any:
		items := make([]Source, len(t))
		for i, item := range t {
			items[i] = FromJSON(item)
		}
		return KindList, items
	}
	return KindNull, nil
}

func jsonList(v any) []Source {
	var values []any
	switch t := v.(type) {
	case map[string]any:
		values, _ = t["values"].([]any)
	case []any:
		values = t
	}
	items := make([]Source, len(values))
	for i, item := range values {
		items[i] = FromJSON(item)
	}
	return items
}

func jsonMap(v any) map[string]Source {
	obj, _ := v.(map[string]any)
	fields, _ := obj["fields"].(map[string]any)
	return FromJSONFields(fields)
}

// jsonInt accepts the proto3 JSON encoding of int64 (a decimal string) as
// well as a plain number.
func jsonInt(v any) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	case float64:
		// float64(math.MaxInt64) rounds up to 2^63, so the upper bound is
		// exclusive.
		if t == math.Trunc(t) && t >= math.MinInt64 && t < 1<<63 {
			return int64(t), true
		}
	}
	return 0, false
}

func jsonFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		switch t {
		case "NaN":
			return math.NaN(), true
		case "Infinity":
			return math.Inf(1), true
		case "-Infinity":
			return math.Inf(-1), true
		}
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	}
	return 0, false
}

// jsonTime accepts an RFC 3339 string or a {"seconds", "nanos"} object.
func jsonTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return ts.UTC(), true
	case map[string]any:
		secs, ok := jsonInt(t["seconds"])
		if !ok {
			return time.Time{}, false
		}
		nanos, _ := jsonInt(t["nanos"])
		return time.Unix(secs, nanos).UTC(), true
	}
	return time.Time{}, false
}

func decodeBase64(s string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}
