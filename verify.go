package sherpa

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
)

// Direction tells the verifier which way a value travels.
type Direction uint8

const (
	// Decode checks values arriving from the server. Timestamps are parsed
	// into time.Time.
	Decode Direction = iota + 1
	// Encode checks values about to be sent. Timestamps are formatted as
	// RFC 3339 strings.
	Encode
)

func (d Direction) String() string {
	switch d {
	case Decode:
		return "decode"
	case Encode:
		return "encode"
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// VerifyOptions relax null handling.
type VerifyOptions struct {
	// SlicesNullable accepts null for arrays.
	SlicesNullable bool
	// MapsNullable accepts null for maps.
	MapsNullable bool
	// NullableOptional treats a missing struct field like null for nullable
	// types, and for arrays and maps when those are nullable.
	NullableOptional bool
}

// DefaultVerifyOptions are the options generated clients use.
var DefaultVerifyOptions = VerifyOptions{SlicesNullable: true, MapsNullable: true, NullableOptional: true}

// undefined marks an absent struct field while walking a value.
type undefined struct{}

var missing any = undefined{}

// Verify checks v against words and returns a normalized copy. Values are
// nil, bool, numbers, string, time.Time, []any and map[string]any; typed Go
// slices, maps, pointers and named basic types are accepted as well. When
// allowUnknownKeys is false, struct values with keys that are not declared
// fields are rejected. When it is true and dir is Decode, fields absent from
// a struct value are tolerated and stay absent.
//
// Decoded integers become int64 (uint64 for unsigned types), floats become
// float64 and int64s/uint64s become decimal strings in both directions.
func Verify(path string, v any, words TypeWords, dir Direction, allowUnknownKeys bool, reg *Registry, opts VerifyOptions) (any, error) {
	vf := &verifier{reg: reg, dir: dir, allowUnknownKeys: allowUnknownKeys, opts: opts}
	r, err := vf.verify(path, v, words)
	if r == missing {
		r = nil
	}
	return r, err
}

// Parse decodes v as the named type, as generated parser helpers do.
func Parse(reg *Registry, name string, v any) (any, error) {
	return Verify(name, v, TypeWords{Ref(name)}, Decode, false, reg, DefaultVerifyOptions)
}

// As converts a verified value into a Go value of type T.
func As[T any](v any) (T, error) {
	var t T
	if tv, ok := v.(T); ok {
		return tv, nil
	}
	buf, err := json.Marshal(v)
	if err != nil {
		return t, err
	}
	err = json.Unmarshal(buf, &t, json.MatchCaseInsensitiveNames(true))
	return t, err
}

type verifier struct {
	reg              *Registry
	dir              Direction
	allowUnknownKeys bool
	opts             VerifyOptions
}

func (vf *verifier) verify(path string, v any, words TypeWords) (any, error) {
	if len(words) == 0 {
		return nil, vf.errorf(path, "bad typewords")
	}
	v = normalize(v)
	w, rest := words[0], words[1:]

	if m, ok := w.(Modifier); ok {
		if len(rest) == 0 {
			return nil, vf.errorf(path, "typewords end in modifier %s", m)
		}
		switch m {
		case Nullable:
			if v == nil || v == missing && vf.opts.NullableOptional {
				return v, nil
			}
			return vf.verify(path, v, rest)

		case ArrayOf:
			if v == nil && vf.opts.SlicesNullable || v == missing && vf.opts.SlicesNullable && vf.opts.NullableOptional {
				return v, nil
			}
			l, ok := v.([]any)
			if !ok {
				return nil, vf.expected(path, v, "array")
			}
			r := make([]any, len(l))
			for i, e := range l {
				ev, err := vf.verify(fmt.Sprintf("%s[%d]", path, i), e, rest)
				if err != nil {
					return nil, err
				}
				r[i] = ev
			}
			return r, nil

		case MapOf:
			if v == nil && vf.opts.MapsNullable || v == missing && vf.opts.MapsNullable && vf.opts.NullableOptional {
				return v, nil
			}
			m, ok := v.(map[string]any)
			if !ok {
				return nil, vf.expected(path, v, "object")
			}
			r := make(map[string]any, len(m))
			for _, k := range sortedKeys(m) {
				ev, err := vf.verify(path+"."+k, m[k], rest)
				if err != nil {
					return nil, err
				}
				r[k] = ev
			}
			return r, nil
		}
		return nil, vf.errorf(path, "unknown modifier %s", m)
	}

	if len(rest) != 0 {
		return nil, vf.errorf(path, "got typewords %s after %s, expected empty typewords", rest, w)
	}
	switch w := w.(type) {
	case Scalar:
		return vf.scalar(path, v, w)
	case Ref:
		return vf.named(path, v, string(w))
	}
	return nil, vf.errorf(path, "unknown typeword %v", w)
}

func (vf *verifier) scalar(path string, v any, s Scalar) (any, error) {
	switch s {
	case Any:
		return v, nil

	case Bool:
		if _, ok := v.(bool); !ok {
			return nil, vf.expected(path, v, "bool")
		}
		return v, nil

	case String:
		if _, ok := v.(string); !ok {
			return nil, vf.expected(path, v, "string")
		}
		return v, nil

	case Int8, Uint8, Int16, Uint16, Int32, Uint32, Int64, Uint64:
		n, ok := integerOf(v)
		if !ok {
			return nil, vf.expected(path, v, "integer")
		}
		if !n.fits(s) {
			return nil, vf.expected(path, v, "integer in range of "+s.String())
		}
		return n.value(s), nil

	case Int64s, Uint64s:
		if str, ok := v.(string); ok {
			var err error
			if s == Int64s {
				_, err = strconv.ParseInt(str, 10, 64)
			} else {
				_, err = strconv.ParseUint(str, 10, 64)
			}
			if err != nil {
				return nil, vf.expected(path, v, "string with "+s.String()+" integer")
			}
			return str, nil
		}
		n, ok := integerOf(v)
		if !ok || !n.fits(s) {
			return nil, vf.expected(path, v, "integer fitting in float without precision loss, or string")
		}
		return n.String(), nil

	case Float32, Float64:
		f, ok := floatOf(v)
		if !ok {
			return nil, vf.expected(path, v, "float")
		}
		return f, nil

	case Timestamp:
		switch tv := v.(type) {
		case time.Time:
			if vf.dir == Encode {
				return formatTimestamp(tv), nil
			}
			return tv, nil
		case string:
			t, err := parseTimestamp(tv)
			if err != nil {
				return nil, vf.errorf(path, "invalid date %s", tv)
			}
			if vf.dir == Encode {
				return formatTimestamp(t), nil
			}
			return t, nil
		}
		if vf.dir == Encode {
			return nil, vf.expected(path, v, "time.Time")
		}
		return nil, vf.expected(path, v, "string, with timestamp")
	}
	return nil, vf.errorf(path, "unknown scalar %s", s)
}

func (vf *verifier) named(path string, v any, name string) (any, error) {
	nt, ok := vf.reg.Lookup(name)
	if !ok {
		return nil, vf.errorf(path, "unknown type %s", name)
	}
	if v == nil || v == missing {
		return nil, vf.errorf(path, "bad value %s for named type %s", describe(v), name)
	}

	switch t := nt.(type) {
	case *StructType:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, vf.errorf(path, "bad value %s for struct %s", describe(v), name)
		}
		r := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			fv, ok := m[f.Name]
			if !ok {
				if vf.dir == Decode && vf.allowUnknownKeys {
					// Incoming values from an older server may lack fields.
					continue
				}
				fv = missing
			}
			x, err := vf.verify(path+"."+f.Name, fv, f.Typewords)
			if err != nil {
				return nil, err
			}
			if x != missing {
				r[f.Name] = x
			}
		}
		if !vf.allowUnknownKeys {
			for _, k := range sortedKeys(m) {
				if _, ok := r[k]; ok {
					continue
				}
				if !t.hasField(k) {
					return nil, vf.errorf(path, "unknown key %s for struct %s", k, name)
				}
			}
		}
		return r, nil

	case *StringsType:
		s, ok := v.(string)
		if !ok {
			return nil, vf.errorf(path, "mistyped value %s for named strings %s", describe(v), name)
		}
		if len(t.Values) == 0 {
			return s, nil
		}
		for _, sv := range t.Values {
			if sv.Value == s {
				return s, nil
			}
		}
		return nil, vf.errorf(path, "unknown value %q for named strings %s", s, name)

	case *IntsType:
		n, ok := integerOf(v)
		if !ok || !n.fits(Int64) {
			return nil, vf.errorf(path, "mistyped value %s for named ints %s", describe(v), name)
		}
		i := n.value(Int64).(int64)
		if len(t.Values) == 0 {
			return i, nil
		}
		for _, iv := range t.Values {
			if iv.Value == i {
				return i, nil
			}
		}
		return nil, vf.errorf(path, "unknown value %d for named ints %s", i, name)
	}
	return nil, vf.errorf(path, "unexpected named type %s", name)
}

func (t *StructType) hasField(name string) bool {
	for _, f := range t.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (vf *verifier) errorf(path, format string, args ...any) error {
	return &VerifyError{Path: path, Message: fmt.Sprintf(format, args...)}
}

func (vf *verifier) expected(path string, v any, expect string) error {
	return vf.errorf(path, "got %s, expected %s", describe(v), expect)
}

func describe(v any) string {
	if v == missing {
		return "undefined"
	}
	if t, ok := v.(time.Time); ok {
		return "time " + t.Format(time.RFC3339Nano)
	}
	if buf, err := json.Marshal(v); err == nil {
		return string(buf)
	}
	return fmt.Sprintf("%v", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var timeType = reflect.TypeFor[time.Time]()

// normalize maps typed Go values onto the dynamic value model.
func normalize(v any) any {
	switch v.(type) {
	case nil, undefined, bool, string, float64, int64, uint64, []any, map[string]any, time.Time:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		l := make([]any, rv.Len())
		for i := range l {
			l[i] = rv.Index(i).Interface()
		}
		return l
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return m
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			return rv.Convert(timeType).Interface()
		}
	}
	return v
}

// integer is an exact integer of up to 64 bits magnitude.
type integer struct {
	neg bool
	abs uint64
}

func integerOf(v any) (integer, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i := rv.Int()
		if i < 0 {
			return integer{neg: true, abs: uint64(-(i + 1)) + 1}, true
		}
		return integer{abs: uint64(i)}, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return integer{abs: rv.Uint()}, true
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) >= 1<<64 {
			return integer{}, false
		}
		return integer{neg: f < 0, abs: uint64(math.Abs(f))}, true
	}
	return integer{}, false
}

func (n integer) fits(s Scalar) bool {
	bits := s.Bits()
	if s.Unsigned() {
		if n.neg && n.abs != 0 {
			return false
		}
		return bits == 64 || n.abs < 1<<bits
	}
	if n.neg {
		return n.abs <= 1<<(bits-1)
	}
	return n.abs < 1<<(bits-1)
}

func (n integer) value(s Scalar) any {
	if s.Unsigned() {
		return n.abs
	}
	if n.neg {
		return -int64(n.abs)
	}
	return int64(n.abs)
}

func (n integer) String() string {
	if n.neg && n.abs != 0 {
		return "-" + strconv.FormatUint(n.abs, 10)
	}
	return strconv.FormatUint(n.abs, 10)
}

func floatOf(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	var f float64
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		f = rv.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f = float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		f = float64(rv.Uint())
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
