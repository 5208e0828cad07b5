package codec

import (
	"io"
	"reflect"

	jsoniter "github.com/json-iterator/go"
)

// dropNullMembers re-emits the encoding of v without the null-valued members
// of objects that came from structs. Map entries and array elements are kept
// even when null, as is anything a custom marshaler produced. Member order is
// preserved.
func dropNullMembers(api jsoniter.API, data []byte, v any) ([]byte, error) {
	iter := api.BorrowIterator(data)
	defer api.ReturnIterator(iter)
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	copyWithoutNulls(iter, stream, reflect.ValueOf(v))
	if iter.Error != nil && iter.Error != io.EOF {
		return nil, iter.Error
	}
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// copyWithoutNulls copies one JSON value from iter to stream. v is the Go
// value it was encoded from; an invalid v copies the JSON as is.
func copyWithoutNulls(iter *jsoniter.Iterator, stream *jsoniter.Stream, v reflect.Value) {
	v = source(v)
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		if !v.IsValid() {
			break
		}
		copyObject(iter, stream, v)
		return
	case jsoniter.ArrayValue:
		if !v.IsValid() {
			break
		}
		switch v.Kind() {
		case reflect.Slice, reflect.Array:
			copyArray(iter, stream, v)
			return
		}
	}
	stream.WriteRaw(string(iter.SkipAndReturnBytes()))
}

// source unwraps pointers and interfaces down to the value the encoder
// walked. Marshalers other than orderedObject end the walk.
func source(v reflect.Value) reflect.Value {
	for v.IsValid() {
		if v.Type() == orderedObjectType {
			return v
		}
		if _, ok := marshalerValue(v); ok {
			return reflect.Value{}
		}
		switch v.Kind() {
		case reflect.Pointer, reflect.Interface:
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		default:
			return v
		}
	}
	return v
}

var orderedObjectType = reflect.TypeOf(orderedObject(nil))

func copyObject(iter *jsoniter.Iterator, stream *jsoniter.Stream, v reflect.Value) {
	var (
		members   map[string]reflect.Value
		dropNulls bool
	)
	switch {
	case v.Type() == orderedObjectType:
		// Built from a struct while breaking cycles.
		dropNulls = true
		members = make(map[string]reflect.Value, v.Len())
		for _, m := range v.Interface().(orderedObject) {
			members[m.name] = reflect.ValueOf(m.value)
		}
	case v.Kind() == reflect.Struct:
		dropNulls = true
		fields := fieldsOf(v.Type())
		members = make(map[string]reflect.Value, len(fields))
		for _, f := range fields {
			if fv, ok := fieldByIndex(v, f.index); ok {
				members[f.name] = fv
			}
		}
	case v.Kind() == reflect.Map:
		members = make(map[string]reflect.Value, v.Len())
		it := v.MapRange()
		for it.Next() {
			members[mapKey(it.Key())] = it.Value()
		}
	}

	stream.WriteObjectStart()
	first := true
	iter.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		if dropNulls && it.WhatIsNext() == jsoniter.NilValue {
			it.Skip()
			return true
		}
		if !first {
			stream.WriteMore()
		}
		first = false
		stream.WriteObjectField(name)
		copyWithoutNulls(it, stream, members[name])
		return it.Error == nil
	})
	stream.WriteObjectEnd()
}

func copyArray(iter *jsoniter.Iterator, stream *jsoniter.Stream, v reflect.Value) {
	stream.WriteArrayStart()
	i := 0
	iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
		if i > 0 {
			stream.WriteMore()
		}
		var elem reflect.Value
		if i < v.Len() {
			elem = v.Index(i)
		}
		i++
		copyWithoutNulls(it, stream, elem)
		return it.Error == nil
	})
	stream.WriteArrayEnd()
}
