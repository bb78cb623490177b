// Package jsonx provides typed scalar extraction from JSON wire descriptors.
//
// The detector stream carries many small JSON parts whose fields are
// mandatory; these helpers turn a missing or mistyped field into an error
// naming it, without building an intermediate map for every part. Maybe
// variants implement the optional cases.
package jsonx

import (
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// FieldError reports a required field that is missing or has the wrong type.
type FieldError struct {
	Field string
	Kind  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q missing or not a %s", e.Field, e.Kind)
}

// Parse validates data as JSON and returns the parsed root. The result
// references data directly; callers must not retain it past the lifetime of
// the receive buffer backing data.
func Parse(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("malformed JSON message part")
	}
	return gjson.ParseBytes(data), nil
}

// Str extracts a required string field. The path may address nested values
// using gjson syntax, e.g. "shape.0". The result is copied out of the
// backing buffer, so it stays valid after the receive buffer is overwritten.
func Str(obj gjson.Result, path string) (string, error) {
	v := obj.Get(path)
	if v.Type != gjson.String {
		return "", &FieldError{Field: path, Kind: "string"}
	}
	return strings.Clone(v.String()), nil
}

// Int extracts a required integer field. A number with a fractional part is
// rejected like any other mistyped value.
func Int(obj gjson.Result, path string) (int64, error) {
	v := obj.Get(path)
	if v.Type != gjson.Number || v.Num != math.Trunc(v.Num) {
		return 0, &FieldError{Field: path, Kind: "whole number"}
	}
	return v.Int(), nil
}

// Float extracts a required numeric field as float64.
func Float(obj gjson.Result, path string) (float64, error) {
	v := obj.Get(path)
	if v.Type != gjson.Number {
		return 0, &FieldError{Field: path, Kind: "number"}
	}
	return v.Float(), nil
}

// MaybeStr extracts an optional string field.
func MaybeStr(obj gjson.Result, path string) (string, bool) {
	v := obj.Get(path)
	if v.Type != gjson.String {
		return "", false
	}
	return strings.Clone(v.String()), true
}

// MaybeInt extracts an optional integer field.
func MaybeInt(obj gjson.Result, path string) (int64, bool) {
	v := obj.Get(path)
	if v.Type != gjson.Number {
		return 0, false
	}
	return v.Int(), true
}

// MaybeBool extracts an optional boolean field.
func MaybeBool(obj gjson.Result, path string) (bool, bool) {
	v := obj.Get(path)
	if !v.IsBool() {
		return false, false
	}
	return v.Bool(), true
}
