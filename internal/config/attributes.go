package config

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ctyValueType = reflect.TypeOf(cty.Value{})

// DecodeAttributes populates the fields of the struct pointed to by target
// from attrs. Fields are matched by their `cty` tag. Attributes that are
// absent or null leave the field untouched, so defaults can be set before
// decoding. Attributes without a matching field are rejected.
func DecodeAttributes(attrs map[string]cty.Value, target any) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() || ptr.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct, got %T", target)
	}
	structVal := ptr.Elem()
	known := make(map[string]struct{})

	for i := 0; i < structVal.NumField(); i++ {
		fieldDef := structVal.Type().Field(i)
		name := tagName(fieldDef)
		if name == "" || !fieldDef.IsExported() {
			continue
		}
		known[name] = struct{}{}

		val, ok := attrs[name]
		if !ok || val.IsNull() {
			continue
		}
		if !val.IsWhollyKnown() {
			return fmt.Errorf("attribute %q has an unknown value", name)
		}
		fieldVal := structVal.Field(i)
		if fieldDef.Type == ctyValueType {
			fieldVal.Set(reflect.ValueOf(val))
			continue
		}
		ty, err := gocty.ImpliedType(fieldVal.Interface())
		if err != nil {
			return fmt.Errorf("attribute %q: cannot imply type of field %s: %w", name, fieldDef.Name, err)
		}
		converted, err := convert.Convert(val, ty)
		if err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
		if err := gocty.FromCtyValue(converted, fieldVal.Addr().Interface()); err != nil {
			return fmt.Errorf("attribute %q: %w", name, err)
		}
	}

	var unknown []string
	for name := range attrs {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return fmt.Errorf("unsupported attributes: %s", strings.Join(unknown, ", "))
	}
	return nil
}

// EncodeAttributes is the inverse of DecodeAttributes. Null values are omitted.
func EncodeAttributes(source any) (map[string]cty.Value, error) {
	val := reflect.ValueOf(source)
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return nil, fmt.Errorf("source must be a struct, got %T", source)
	}
	attrs := make(map[string]cty.Value)
	for i := 0; i < val.NumField(); i++ {
		fieldDef := val.Type().Field(i)
		name := tagName(fieldDef)
		if name == "" || !fieldDef.IsExported() {
			continue
		}
		fieldVal := val.Field(i).Interface()
		var encoded cty.Value
		if v, ok := fieldVal.(cty.Value); ok {
			encoded = v
		} else {
			ty, err := gocty.ImpliedType(fieldVal)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fieldDef.Name, err)
			}
			encoded, err = gocty.ToCtyValue(fieldVal, ty)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", fieldDef.Name, err)
			}
		}
		if encoded.IsNull() {
			continue
		}
		attrs[name] = encoded
	}
	return attrs, nil
}

func tagName(f reflect.StructField) string {
	tag := strings.Split(f.Tag.Get("cty"), ",")[0]
	if tag == "-" {
		return ""
	}
	return tag
}
