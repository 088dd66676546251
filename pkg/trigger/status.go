package trigger

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"strings"
)

// InternalErrorStatus is assumed when the handler failed without reporting a status.
const InternalErrorStatus = 500

// HTTPStatuser is implemented by handler results that know their status code.
type HTTPStatuser interface {
	HTTPStatus() int
}

// StatusCode derives the response status of an invocation. An explicit status
// code on result wins, then a numeric result, then 500 if err is non-nil.
// A zero status counts as absent.
func StatusCode(err error, result any) (int, bool) {
	result = decodeRaw(result)
	if code, ok := fieldStatusCode(result); ok && code != 0 {
		return code, true
	}
	if code, ok := number(result); ok && code != 0 {
		return code, true
	}
	if err != nil {
		return InternalErrorStatus, true
	}
	return 0, false
}

// decodeRaw turns serialised JSON results into values.
func decodeRaw(result any) any {
	var data []byte
	switch v := result.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		return result
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil
	}
	return out
}

// fieldStatusCode reads a numeric statusCode from a map or struct result.
func fieldStatusCode(result any) (int, bool) {
	switch v := result.(type) {
	case nil:
		return 0, false
	case HTTPStatuser:
		return bounded(int64(v.HTTPStatus()))
	case map[string]any:
		return number(v["statusCode"])
	}

	rv := reflect.ValueOf(result)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		rt := rv.Type()
		for i := range rt.NumField() {
			f := rt.Field(i)
			if !f.IsExported() {
				continue
			}
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if f.Name == "StatusCode" || name == "statusCode" {
				return number(rv.Field(i).Interface())
			}
		}
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return 0, false
		}
		mv := rv.MapIndex(reflect.ValueOf("statusCode").Convert(rv.Type().Key()))
		if mv.IsValid() {
			return number(mv.Interface())
		}
	}
	return 0, false
}

// number converts numeric values to an int. Strings and booleans are not
// numbers, and neither is anything outside the int32 range.
func number(v any) (int, bool) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return bounded(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatNumber(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return bounded(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt32 {
			return 0, false
		}
		return int(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return floatNumber(rv.Float())
	default:
		return 0, false
	}
}

func floatNumber(f float64) (int, bool) {
	if math.IsNaN(f) || f < math.MinInt32 || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

func bounded(i int64) (int, bool) {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return 0, false
	}
	return int(i), true
}
