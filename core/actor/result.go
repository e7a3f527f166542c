package actor

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Result is the reply of a request. In-process deliveries keep the handler's
// Go value; replies that crossed a serializing transport hold raw JSON.
// Use [As] or [Result.Decode] to read either kind the same way.
type Result struct {
	value any
	raw   json.RawMessage
}

// ValueResult wraps an in-process handler return value.
func ValueResult(v any) Result { return Result{value: v} }

// RawResult wraps a JSON encoded reply.
func RawResult(data json.RawMessage) Result {
	if data == nil {
		data = json.RawMessage("null")
	}
	return Result{raw: data}
}

// IsRaw reports whether the result holds serialized data.
func (r Result) IsRaw() bool { return r.raw != nil }

// Value returns the Go value of the result. Raw results are decoded into
// their generic JSON form (numbers become float64).
func (r Result) Value() any {
	if r.raw == nil {
		return r.value
	}
	var v any
	if err := json.Unmarshal(r.raw, &v); err != nil {
		return nil
	}
	return v
}

// MarshalJSON encodes the result for the wire.
func (r Result) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	return json.Marshal(r.value)
}

// Raw returns the JSON form of the result.
func (r Result) Raw() (json.RawMessage, error) {
	data, err := r.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return data, nil
}

// Decode stores the result into out, which must be a non-nil pointer.
func (r Result) Decode(out any) error {
	if r.raw == nil && r.value != nil {
		rv := reflect.ValueOf(out)
		if rv.Kind() == reflect.Pointer && !rv.IsNil() {
			vv := reflect.ValueOf(r.value)
			if vv.Type().AssignableTo(rv.Elem().Type()) {
				rv.Elem().Set(vv)
				return nil
			}
		}
	}
	data, err := r.Raw()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// As reads the result as T regardless of where the reply was produced.
func As[T any](r Result) (out T, err error) {
	if r.raw == nil {
		if v, ok := r.value.(T); ok {
			return v, nil
		}
	}
	err = r.Decode(&out)
	return out, err
}
