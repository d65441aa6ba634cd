package typedvalue

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/googleapis/google-cloudevents-go/cloud/firestoredata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSONLiteral(t *testing.T, literal string) Source {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(literal))
	dec.UseNumber()
	var raw any
	require.NoError(t, dec.Decode(&raw))
	return FromJSON(raw)
}

func TestDecode_ZeroScalarsAreNotNull(t *testing.T) {
	tests := []struct {
		name string
		src  Source
		want any
	}{
		{"proto int zero", FromProto(intValue(0)), int64(0)},
		{"proto empty string", FromProto(&firestoredata.Value{ValueType: &firestoredata.Value_StringValue{}}), ""},
		{"proto false", FromProto(&firestoredata.Value{ValueType: &firestoredata.Value_BooleanValue{}}), false},
		{"proto double zero", FromProto(doubleValue(0)), float64(0)},
		{"json int zero string", FromJSON(map[string]any{"integerValue": "0"}), int64(0)},
		{"json int zero number", FromJSON(map[string]any{"integerValue": json.Number("0")}), int64(0)},
		{"json empty string", FromJSON(map[string]any{"stringValue": ""}), ""},
		{"json false", FromJSON(map[string]any{"booleanValue": false}), false},
		{"json snake case false", FromJSON(map[string]any{"boolean_value": false}), false},
		{"native zero", FromJSON(json.Number("0")), int64(0)},
		{"native empty string", FromJSON(""), ""},
		{"native false", FromJSON(false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decode(tt.src)
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_NullAndUnknown(t *testing.T) {
	tests := []struct {
		name string
		src  Source
	}{
		{"nil source", nil},
		{"nil proto", FromProto(nil)},
		{"proto without value type", FromProto(&firestoredata.Value{})},
		{"proto null", FromProto(&firestoredata.Value{ValueType: &firestoredata.Value_NullValue{}})},
		{"json null tag", FromJSON(map[string]any{"nullValue": nil})},
		{"json unknown tag", FromJSON(map[string]any{"colourValue": "red"})},
		{"json two tags", FromJSON(map[string]any{"stringValue": "a", "integerValue": "1"})},
		{"json tag beside plain key", FromJSON(map[string]any{"stringValue": "a", "street": "x"})},
		{"json unknown snake tag", FromJSON(map[string]any{"colour_value": "red"})},
		{"json integer at 2^63", FromJSON(map[string]any{"integerValue": float64(1 << 63)})},
		{"json wrong payload type", FromJSON(map[string]any{"booleanValue": "true"})},
		{"json bad integer", FromJSON(map[string]any{"integerValue": "twelve"})},
		{"json null literal", FromJSON(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, Decode(tt.src))
		})
	}
}

func TestDecode_JSONPlainObjects(t *testing.T) {
	got := Decode(decodeJSONLiteral(t, `{"address": {"street": "x", "n": 1, "zip": {"integerValue": "70"}}, "city": "y"}`))
	assert.Equal(t, map[string]any{
		"address": map[string]any{"street": "x", "n": int64(1), "zip": int64(70)},
		"city":    "y",
	}, got)

	got = Decode(decodeJSONLiteral(t, `{"street": "x"}`))
	assert.Equal(t, map[string]any{"street": "x"}, got)

	got = Decode(decodeJSONLiteral(t, `{}`))
	assert.Equal(t, map[string]any{}, got)
}

func TestJSONIntBounds(t *testing.T) {
	n, ok := jsonInt(float64(math.MinInt64))
	assert.True(t, ok)
	assert.Equal(t, int64(math.MinInt64), n)

	n, ok = jsonInt(float64(1 << 62))
	assert.True(t, ok)
	assert.Equal(t, int64(1<<62), n)

	_, ok = jsonInt(float64(1 << 63))
	assert.False(t, ok, "2^63 does not fit in int64")

	_, ok = jsonInt(1.5)
	assert.False(t, ok)
}

func TestDecode_ScalarTypesPreserved(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589000000, time.UTC)

	got := Decode(decodeJSONLiteral(t, `{"timestampValue": "2026-03-14T09:26:53.589Z"}`))
	assert.Equal(t, ts, got)

	got = Decode(decodeJSONLiteral(t, `{"timestampValue": {"seconds": "1773480413", "nanos": 589000000}}`))
	assert.Equal(t, ts, got)

	got = Decode(decodeJSONLiteral(t, `{"integerValue": "9007199254740993"}`))
	assert.Equal(t, int64(9007199254740993), got)

	got = Decode(decodeJSONLiteral(t, `{"doubleValue": 12.5}`))
	assert.Equal(t, 12.5, got)

	got = Decode(decodeJSONLiteral(t, `{"doubleValue": "NaN"}`))
	f, ok := got.(float64)
	require.True(t, ok)
	assert.True(t, math.IsNaN(f))

	got = Decode(decodeJSONLiteral(t, `{"doubleValue": "-Infinity"}`))
	assert.Equal(t, math.Inf(-1), got)

	got = Decode(decodeJSONLiteral(t, `{"bytesValue": "aGVsbG8="}`))
	assert.Equal(t, []byte("hello"), got)

	got = Decode(decodeJSONLiteral(t, `{"referenceValue": "projects/p/databases/(default)/documents/orders/A"}`))
	assert.Equal(t, Reference("projects/p/databases/(default)/documents/orders/A"), got)

	got = Decode(decodeJSONLiteral(t, `{"geoPointValue": {"latitude": 48.85, "longitude": 2.35}}`))
	assert.Equal(t, GeoPoint{Latitude: 48.85, Longitude: 2.35}, got)
}

func TestDecode_ListOrderAndMapKeys(t *testing.T) {
	src := decodeJSONLiteral(t, `{
		"mapValue": {"fields": {
			"items": {"arrayValue": {"values": [
				{"stringValue": "c"},
				{"integerValue": "0"},
				{"nullValue": null},
				{"stringValue": "a"}
			]}},
			"empty": {"arrayValue": {}},
			"nested": {"mapValue": {"fields": {"ok": {"booleanValue": false}}}},
			"none": {"mapValue": {}}
		}}
	}`)

	got, ok := Decode(src).(map[string]any)
	require.True(t, ok)

	assert.ElementsMatch(t, []string{"items", "empty", "nested", "none"}, keys(got))
	assert.Equal(t, []any{"c", int64(0), nil, "a"}, got["items"])
	assert.Equal(t, []any{}, got["empty"])
	assert.Equal(t, map[string]any{"ok": false}, got["nested"])
	assert.Equal(t, map[string]any{}, got["none"])
}

func TestDecode_NativeJSONPassthrough(t *testing.T) {
	src := FromJSONFields(map[string]any{
		"orderId":    "ABC-123",
		"totalOrder": json.Number("42.5"),
		"count":      json.Number("3"),
		"tags":       []any{"x", json.Number("1")},
	})

	got := DecodeFields(src)
	assert.Equal(t, map[string]any{
		"orderId":    "ABC-123",
		"totalOrder": 42.5,
		"count":      int64(3),
		"tags":       []any{"x", int64(1)},
	}, got)
}

func TestDecodeFields_NilYieldsEmptyMap(t *testing.T) {
	got := DecodeFields(nil)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "null", KindNull.String())
	assert.Equal(t, "timestamp", KindTimestamp.String())
	assert.Equal(t, "map", KindMap.String())
	assert.Equal(t, "kind(200)", Kind(200).String())
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
