package request

import (
	"encoding"
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// EncodeForm flattens params into Stripe's bracketed form encoding.
//
// Struct fields are named by their `form:"name"` tag (`form:"-"` skips a field,
// `form:"name,omitempty"` skips zero values). Nil pointers and nil interfaces are
// always skipped. Nested structs and maps encode as parent[child], slices as
// parent[0], parent[1], time.Time as unix seconds. params may be nil, a struct,
// a pointer to a struct or a map with string keys.
func EncodeForm(params any) (url.Values, error) {
	values := url.Values{}
	if params == nil {
		return values, nil
	}
	rv := indirect(reflect.ValueOf(params))
	if !rv.IsValid() {
		return values, nil
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
	default:
		return nil, fmt.Errorf("表单参数必须是结构体或map，实际为 %s", rv.Type())
	}
	if err := encodeValue(values, "", rv); err != nil {
		return nil, err
	}
	return values, nil
}

var (
	timeType          = reflect.TypeOf(time.Time{})
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func encodeValue(values url.Values, key string, rv reflect.Value) error {
	rv = indirect(rv)
	if !rv.IsValid() {
		return nil
	}

	if rv.Type() == timeType {
		values.Add(key, strconv.FormatInt(rv.Interface().(time.Time).Unix(), 10))
		return nil
	}
	if rv.Kind() != reflect.String && rv.Type().Implements(textMarshalerType) {
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return fmt.Errorf("编码字段 %s 失败: %w", key, err)
		}
		values.Add(key, string(text))
		return nil
	}

	switch rv.Kind() {
	case reflect.Struct:
		return encodeStruct(values, key, rv)
	case reflect.Map:
		return encodeMap(values, key, rv)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			values.Add(key, string(rv.Bytes()))
			return nil
		}
		for i := 0; i < rv.Len(); i++ {
			if err := encodeValue(values, key+"["+strconv.Itoa(i)+"]", rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case reflect.String:
		values.Add(key, rv.String())
	case reflect.Bool:
		values.Add(key, strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		values.Add(key, strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		values.Add(key, strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		values.Add(key, strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits()))
	default:
		return fmt.Errorf("字段 %s 的类型 %s 不支持表单编码", key, rv.Type())
	}
	return nil
}

func encodeStruct(values url.Values, prefix string, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("form")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		// 没有标签的匿名字段展开到当前层级
		if field.Anonymous && name == "" {
			inner := indirect(fv)
			if inner.IsValid() && inner.Kind() == reflect.Struct {
				if err := encodeStruct(values, prefix, inner); err != nil {
					return err
				}
			}
			continue
		}
		if name == "" {
			name = field.Name
		}
		if opts == "omitempty" && fv.IsZero() {
			continue
		}
		if err := encodeValue(values, joinKey(prefix, name), fv); err != nil {
			return err
		}
	}
	return nil
}

func encodeMap(values url.Values, prefix string, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return fmt.Errorf("map键必须是字符串，实际为 %s", rv.Type().Key())
	}
	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
		if err := encodeValue(values, joinKey(prefix, k), v); err != nil {
			return err
		}
	}
	return nil
}

func joinKey(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "[" + name + "]"
}

func indirect(rv reflect.Value) reflect.Value {
	for rv.IsValid() && (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) {
		if rv.IsNil() {
			return reflect.Value{}
		}
		rv = rv.Elem()
	}
	return rv
}
