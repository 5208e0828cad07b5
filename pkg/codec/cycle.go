package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var (
	marshalerType     = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// visitKey identifies a reference-typed value on the current walk path.
// The type is part of the key so a struct pointer and a pointer to its first
// field are not mistaken for each other.
type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type walkPath map[visitKey]struct{}

func keyOf(v reflect.Value) (visitKey, bool) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map:
		if v.IsNil() {
			return visitKey{}, false
		}
		return visitKey{ptr: v.Pointer(), typ: v.Type()}, true
	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return visitKey{}, false
		}
		return visitKey{ptr: v.Pointer(), typ: v.Type(), len: v.Len()}, true
	}
	return visitKey{}, false
}

func hasCycle(v any) bool {
	if v == nil {
		return false
	}
	return findCycle(reflect.ValueOf(v), walkPath{})
}

func findCycle(v reflect.Value, seen walkPath) bool {
	if !v.IsValid() {
		return false
	}
	if _, ok := marshalerValue(v); ok {
		return false
	}
	if k, ok := keyOf(v); ok {
		if _, dup := seen[k]; dup {
			return true
		}
		seen[k] = struct{}{}
		defer delete(seen, k)
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return false
		}
		return findCycle(v.Elem(), seen)
	case reflect.Struct:
		for _, f := range fieldsOf(v.Type()) {
			fv, ok := fieldByIndex(v, f.index)
			if ok && findCycle(fv, seen) {
				return true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if findCycle(iter.Value(), seen) {
				return true
			}
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return false
		}
		for i := 0; i < v.Len(); i++ {
			if findCycle(v.Index(i), seen) {
				return true
			}
		}
	}
	return false
}

// breakCycles rebuilds v as a plain tree of objects, maps and arrays in which
// every reference that would revisit a value already on the path is removed.
func breakCycles(v any) any {
	out, _ := prune(reflect.ValueOf(v), walkPath{})
	return out
}

// prune reports keep=false when v closes a cycle and must be dropped.
func prune(v reflect.Value, seen walkPath) (out any, keep bool) {
	if !v.IsValid() {
		return nil, true
	}
	if k, ok := keyOf(v); ok {
		if _, dup := seen[k]; dup {
			return nil, false
		}
		seen[k] = struct{}{}
		defer delete(seen, k)
	}
	if m, ok := marshalerValue(v); ok {
		return m, true
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, true
		}
		return prune(v.Elem(), seen)
	case reflect.Struct:
		obj := make(orderedObject, 0, v.NumField())
		for _, f := range fieldsOf(v.Type()) {
			fv, ok := fieldByIndex(v, f.index)
			if !ok || !fv.CanInterface() {
				continue
			}
			if f.omitEmpty && isEmptyValue(fv) {
				continue
			}
			val, keep := prune(fv, seen)
			if !keep {
				continue
			}
			obj = append(obj, member{name: f.name, value: val})
		}
		return obj, true
	case reflect.Map:
		if v.IsNil() {
			return nil, true
		}
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			val, keep := prune(iter.Value(), seen)
			if !keep {
				continue
			}
			m[mapKey(iter.Key())] = val
		}
		return m, true
	case reflect.Slice:
		if v.IsNil() {
			return nil, true
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return v.Interface(), true
		}
		return pruneElems(v, seen), true
	case reflect.Array:
		return pruneElems(v, seen), true
	default:
		if !v.CanInterface() {
			return nil, false
		}
		return v.Interface(), true
	}
}

func pruneElems(v reflect.Value, seen walkPath) []any {
	arr := make([]any, v.Len())
	for i := range arr {
		if val, keep := prune(v.Index(i), seen); keep {
			arr[i] = val
		}
	}
	return arr
}

// marshalerValue returns the value to hand to the encoder when v serializes
// itself through json.Marshaler or encoding.TextMarshaler.
func marshalerValue(v reflect.Value) (any, bool) {
	t := v.Type()
	if t.Kind() == reflect.Pointer && v.IsNil() {
		return nil, false
	}
	if !v.CanInterface() {
		return nil, false
	}
	if t.Kind() != reflect.Interface && (t.Implements(marshalerType) || t.Implements(textMarshalerType)) {
		return v.Interface(), true
	}
	if v.CanAddr() {
		pt := reflect.PointerTo(t)
		if pt.Implements(marshalerType) || pt.Implements(textMarshalerType) {
			return v.Addr().Interface(), true
		}
	}
	return nil, false
}

type field struct {
	name      string
	index     []int
	omitEmpty bool
}

// fieldsOf lists the JSON-visible fields of a struct type in declaration
// order, flattening untagged embedded structs.
func fieldsOf(t reflect.Type) []field {
	var out []field
	collectFields(t, nil, &out)
	return out
}

func collectFields(t reflect.Type, index []int, out *[]field) {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		idx := append(append([]int(nil), index...), i)

		if sf.Anonymous && name == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				collectFields(ft, idx, out)
				continue
			}
		}
		if !sf.IsExported() {
			continue
		}
		if name == "" {
			name = sf.Name
		}
		*out = append(*out, field{
			name:      name,
			index:     idx,
			omitEmpty: strings.Contains(","+opts+",", ",omitempty,"),
		})
	}
}

func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	if k.CanInterface() {
		if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
			if b, err := tm.MarshalText(); err == nil {
				return string(b)
			}
		}
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10)
	}
	return fmt.Sprint(k.Interface())
}

type member struct {
	name  string
	value any
}

// orderedObject encodes as a JSON object keeping struct declaration order.
type orderedObject []member

func (o orderedObject) MarshalJSON() ([]byte, error) {
	api := jsoniter.ConfigCompatibleWithStandardLibrary
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := api.Marshal(m.name)
		if err != nil {
			return nil, err
		}
		val, err := api.Marshal(m.value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
