package sherpa

import (
	"fmt"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// TypeWord is a single token of a type description. It is one of Modifier,
// Scalar or Ref.
type TypeWord interface {
	typeWord()
	String() string
}

// Modifier wraps the type described by the remaining words.
type Modifier uint8

const (
	Nullable Modifier = iota + 1
	ArrayOf
	MapOf
)

func (Modifier) typeWord() {}

func (m Modifier) String() string {
	switch m {
	case Nullable:
		return "nullable"
	case ArrayOf:
		return "[]"
	case MapOf:
		return "{}"
	}
	return fmt.Sprintf("Modifier(%d)", uint8(m))
}

// Scalar is a built-in terminal type.
type Scalar uint8

const (
	Bool Scalar = iota + 1
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	// Int64s and Uint64s are 64-bit integers transported as strings.
	Int64s
	Uint64s
	Float32
	Float64
	String
	Timestamp
	Any
)

var scalarNames = map[Scalar]string{
	Bool:      "bool",
	Int8:      "int8",
	Uint8:     "uint8",
	Int16:     "int16",
	Uint16:    "uint16",
	Int32:     "int32",
	Uint32:    "uint32",
	Int64:     "int64",
	Uint64:    "uint64",
	Int64s:    "int64s",
	Uint64s:   "uint64s",
	Float32:   "float32",
	Float64:   "float64",
	String:    "string",
	Timestamp: "timestamp",
	Any:       "any",
}

var scalarsByName = func() map[string]Scalar {
	m := make(map[string]Scalar, len(scalarNames))
	for s, name := range scalarNames {
		m[name] = s
	}
	return m
}()

func (Scalar) typeWord() {}

func (s Scalar) String() string {
	if name, ok := scalarNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Scalar(%d)", uint8(s))
}

// Integer reports whether s is an integer type transported as a JSON number.
func (s Scalar) Integer() bool {
	return s >= Int8 && s <= Uint64
}

// Unsigned reports whether s is an unsigned integer type.
func (s Scalar) Unsigned() bool {
	switch s {
	case Uint8, Uint16, Uint32, Uint64, Uint64s:
		return true
	}
	return false
}

// Bits returns the width of integer and float scalars, 0 for other scalars.
func (s Scalar) Bits() int {
	switch s {
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32, Float32:
		return 32
	case Int64, Uint64, Int64s, Uint64s, Float64:
		return 64
	}
	return 0
}

// Ref references a named type in a Registry.
type Ref string

func (Ref) typeWord() {}

func (r Ref) String() string { return string(r) }

// TypeWords is a well-formed type description: zero or more modifiers
// followed by exactly one Scalar or Ref.
type TypeWords []TypeWord

// ParseTypeWords classifies and validates tokens as found in a schema, e.g.
// ["nullable", "[]", "Build"].
func ParseTypeWords(tokens []string) (TypeWords, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty typewords")
	}
	words := make(TypeWords, len(tokens))
	for i, tok := range tokens {
		var w TypeWord
		switch tok {
		case "nullable":
			w = Nullable
		case "[]":
			w = ArrayOf
		case "{}":
			w = MapOf
		case "":
			return nil, fmt.Errorf("empty typeword at position %d", i)
		default:
			if s, ok := scalarsByName[tok]; ok {
				w = s
			} else {
				w = Ref(tok)
			}
		}
		last := i == len(tokens)-1
		if _, ok := w.(Modifier); ok == last {
			if last {
				return nil, fmt.Errorf("typewords %q end in modifier %s", tokens, tok)
			}
			return nil, fmt.Errorf("typewords %q have terminal %s before the end", tokens, tok)
		}
		words[i] = w
	}
	return words, nil
}

// MustParseTypeWords is like ParseTypeWords but panics on error.
func MustParseTypeWords(tokens ...string) TypeWords {
	words, err := ParseTypeWords(tokens)
	if err != nil {
		panic(err)
	}
	return words
}

// Tokens returns the string form of each word.
func (tw TypeWords) Tokens() []string {
	l := make([]string, len(tw))
	for i, w := range tw {
		l[i] = w.String()
	}
	return l
}

func (tw TypeWords) String() string {
	return strings.Join(tw.Tokens(), " ")
}

// Refs returns the named types referenced by tw.
func (tw TypeWords) Refs() []Ref {
	var l []Ref
	for _, w := range tw {
		if r, ok := w.(Ref); ok {
			l = append(l, r)
		}
	}
	return l
}

func (tw TypeWords) MarshalJSONTo(enc *jsontext.Encoder) error {
	return json.MarshalEncode(enc, tw.Tokens())
}

func (tw *TypeWords) UnmarshalJSONFrom(dec *jsontext.Decoder) error {
	var tokens []string
	if err := json.UnmarshalDecode(dec, &tokens); err != nil {
		return err
	}
	words, err := ParseTypeWords(tokens)
	if err != nil {
		return err
	}
	*tw = words
	return nil
}
