package sherpa

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Enum lists the permitted values of a named Go string or integer type, for
// use with TypesFromGo.
type Enum struct {
	typ    reflect.Type
	values []reflect.Value
}

// EnumValues declares values as the complete set for their type.
func EnumValues[T ~string | ~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32](values ...T) Enum {
	e := Enum{typ: reflect.TypeFor[T]()}
	for _, v := range values {
		e.values = append(e.values, reflect.ValueOf(v))
	}
	return e
}

// TypesFromGo derives named types from Go values: each argument is a struct
// value (or pointer to one), or an Enum. Types reachable from struct fields
// are included. Pointers become nullable, slices "[]", maps with string keys
// "{}", time.Time "timestamp" and int64 fields tagged `json:",string"`
// "int64s". Named string and integer types become enums, open unless declared
// with EnumValues.
func TypesFromGo(values ...any) ([]NamedType, error) {
	c := &typeCollector{
		enums: make(map[reflect.Type]Enum),
		types: make(map[string]NamedType),
		seen:  make(map[string]reflect.Type),
	}
	var roots []reflect.Type
	for _, v := range values {
		switch v := v.(type) {
		case Enum:
			c.enums[v.typ] = v
			roots = append(roots, v.typ)
		default:
			t := reflect.TypeOf(v)
			if t == nil {
				return nil, fmt.Errorf("nil value")
			}
			for t.Kind() == reflect.Pointer {
				t = t.Elem()
			}
			if t.Kind() != reflect.Struct || t.Name() == "" {
				return nil, fmt.Errorf("%s: not a named struct type", t)
			}
			roots = append(roots, t)
		}
	}
	for _, t := range roots {
		if _, err := c.ref(t); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	l := make([]NamedType, len(names))
	for i, name := range names {
		l[i] = c.types[name]
	}
	return l, nil
}

type typeCollector struct {
	enums map[reflect.Type]Enum
	types map[string]NamedType
	seen  map[string]reflect.Type
}

// ref registers named type t and returns its reference.
func (c *typeCollector) ref(t reflect.Type) (Ref, error) {
	name := t.Name()
	if prev, ok := c.seen[name]; ok {
		if prev != t {
			return "", fmt.Errorf("types %s and %s have the same name", prev, t)
		}
		return Ref(name), nil
	}
	c.seen[name] = t

	switch t.Kind() {
	case reflect.Struct:
		st := &StructType{Name: name}
		c.types[name] = st
		fields, err := c.fields(t)
		if err != nil {
			return "", err
		}
		st.Fields = fields
	case reflect.String:
		st := &StringsType{Name: name}
		for _, v := range c.enums[t].values {
			st.Values = append(st.Values, StringValue{Name: fmt.Sprint(v.Interface()), Value: v.String()})
		}
		c.types[name] = st
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32:
		it := &IntsType{Name: name}
		for _, v := range c.enums[t].values {
			var n int64
			if v.CanInt() {
				n = v.Int()
			} else {
				n = int64(v.Uint())
			}
			it.Values = append(it.Values, IntValue{Name: fmt.Sprint(v.Interface()), Value: n})
		}
		c.types[name] = it
	default:
		return "", fmt.Errorf("%s: unsupported kind %s for named type", t, t.Kind())
	}
	return Ref(name), nil
}

func (c *typeCollector) fields(t reflect.Type) ([]Field, error) {
	var fields []Field
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		// Fields of embedded structs are promoted, also when the embedded
		// type itself is unexported.
		if f.Anonymous && name == "" && f.Type.Kind() == reflect.Struct {
			embedded, err := c.fields(f.Type)
			if err != nil {
				return nil, err
			}
			fields = append(fields, embedded...)
			continue
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		words, err := c.words(f.Type, hasTagOption(opts, "string"))
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name(), f.Name, err)
		}
		fields = append(fields, Field{Name: name, Typewords: words})
	}
	return fields, nil
}

func hasTagOption(opts, option string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == option {
			return true
		}
	}
	return false
}

// words returns the type words for a field of type t.
func (c *typeCollector) words(t reflect.Type, asString bool) (TypeWords, error) {
	switch t.Kind() {
	case reflect.Pointer:
		w, err := c.words(t.Elem(), asString)
		return append(TypeWords{Nullable}, w...), err
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return TypeWords{String}, nil
		}
		w, err := c.words(t.Elem(), false)
		return append(TypeWords{ArrayOf}, w...), err
	case reflect.Array:
		w, err := c.words(t.Elem(), false)
		return append(TypeWords{ArrayOf}, w...), err
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key %s: only string keys are supported", t.Key())
		}
		w, err := c.words(t.Elem(), false)
		return append(TypeWords{MapOf}, w...), err
	case reflect.Interface:
		return TypeWords{Any}, nil
	}

	if t == timeType {
		return TypeWords{Timestamp}, nil
	}
	if t.Name() != "" && t.PkgPath() != "" {
		r, err := c.ref(t)
		if err != nil {
			return nil, err
		}
		return TypeWords{r}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return TypeWords{Bool}, nil
	case reflect.String:
		return TypeWords{String}, nil
	case reflect.Int8:
		return TypeWords{Int8}, nil
	case reflect.Int16:
		return TypeWords{Int16}, nil
	case reflect.Int32:
		return TypeWords{Int32}, nil
	case reflect.Int, reflect.Int64:
		if asString {
			return TypeWords{Int64s}, nil
		}
		return TypeWords{Int64}, nil
	case reflect.Uint8:
		return TypeWords{Uint8}, nil
	case reflect.Uint16:
		return TypeWords{Uint16}, nil
	case reflect.Uint32:
		return TypeWords{Uint32}, nil
	case reflect.Uint, reflect.Uint64:
		if asString {
			return TypeWords{Uint64s}, nil
		}
		return TypeWords{Uint64}, nil
	case reflect.Float32:
		return TypeWords{Float32}, nil
	case reflect.Float64:
		return TypeWords{Float64}, nil
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}
